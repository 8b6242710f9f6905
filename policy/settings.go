package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Settings holds the parsed option for every policy of one connector.
type Settings struct {
	options map[string]Option
}

// DefaultSettings returns every policy at its default option.
func DefaultSettings() Settings {
	s := Settings{options: make(map[string]Option, len(descriptors))}
	for _, d := range descriptors {
		s.options[d.ID] = d.Default
	}
	return s
}

// ParseSettings parses raw connector settings. Missing policies take their
// default; unknown policies and options are errors.
func ParseSettings(raw map[string]string) (Settings, error) {
	s := DefaultSettings()
	for id, value := range raw {
		id = strings.ToLower(strings.TrimSpace(id))
		d, ok := Lookup(id)
		if !ok {
			return Settings{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, id)
		}
		opt := Option(strings.ToLower(strings.TrimSpace(value)))
		if !d.Allows(opt) {
			return Settings{}, fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, value, id)
		}
		s.options[id] = opt
	}
	return s, nil
}

// Option returns the option for policy id. Unset policies report their default.
func (s Settings) Option(id string) Option {
	if opt, ok := s.options[id]; ok {
		return opt
	}
	if d, ok := Lookup(id); ok {
		return d.Default
	}
	return ""
}

// With returns a copy of s with policy id set to opt.
func (s Settings) With(id string, opt Option) (Settings, error) {
	d, ok := Lookup(id)
	if !ok {
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, id)
	}
	if !d.Allows(opt) {
		return Settings{}, fmt.Errorf("%w: %q for policy %s", ErrUnknownOption, opt, id)
	}
	out := DefaultSettings()
	for k, v := range s.options {
		out.options[k] = v
	}
	out.options[id] = opt
	return out, nil
}

// Map returns the settings as raw strings.
func (s Settings) Map() map[string]string {
	out := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		out[d.ID] = string(s.Option(d.ID))
	}
	return out
}

func (s Settings) String() string {
	m := s.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, ",")
}
