// Package config loads and validates the proxy configuration and publishes
// changes to the components built from it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/repository-proxy/credentials"
	"github.com/wolfeidau/repository-proxy/policy"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
)

// EnvPrefix prefixes environment variable overrides, for example
// REPOPROXY_SERVER_ADDRESS.
const EnvPrefix = "REPOPROXY"

// ErrInvalidConfiguration wraps every validation failure.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Section names a top level part of the configuration. Change notifications
// list the sections that differ.
type Section string

const (
	SectionServer              Section = "server"
	SectionManagedRepositories Section = "managed_repositories"
	SectionRemoteRepositories  Section = "remote_repositories"
	SectionNetworkProxies      Section = "network_proxies"
	SectionProxyConnectors     Section = "proxy_connectors"
	SectionFileTypes           Section = "file_types"
	SectionFailureCache        Section = "failure_cache"
)

// Sections lists every section in document order.
var Sections = []Section{
	SectionServer,
	SectionManagedRepositories,
	SectionRemoteRepositories,
	SectionNetworkProxies,
	SectionProxyConnectors,
	SectionFileTypes,
	SectionFailureCache,
}

// Configuration is the whole proxy configuration.
type Configuration struct {
	Server              Server              `mapstructure:"server" yaml:"server"`
	ManagedRepositories []ManagedRepository `mapstructure:"managed_repositories" yaml:"managed_repositories,omitempty"`
	RemoteRepositories  []RemoteRepository  `mapstructure:"remote_repositories" yaml:"remote_repositories,omitempty"`
	NetworkProxies      []NetworkProxy      `mapstructure:"network_proxies" yaml:"network_proxies,omitempty"`
	ProxyConnectors     []ProxyConnector    `mapstructure:"proxy_connectors" yaml:"proxy_connectors,omitempty"`
	FileTypes           FileTypes           `mapstructure:"file_types" yaml:"file_types"`
	FailureCache        FailureCache        `mapstructure:"failure_cache" yaml:"failure_cache"`
}

// Server configures the HTTP listener.
type Server struct {
	Address         string `mapstructure:"address" yaml:"address"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

// ManagedRepository is a local repository that receives proxied content.
type ManagedRepository struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Name     string `mapstructure:"name" yaml:"name,omitempty"`
	Location string `mapstructure:"location" yaml:"location"`
	Layout   string `mapstructure:"layout" yaml:"layout,omitempty"`
}

// RemoteRepository is an upstream repository reached by URL.
type RemoteRepository struct {
	ID       string        `mapstructure:"id" yaml:"id"`
	Name     string        `mapstructure:"name" yaml:"name,omitempty"`
	URL      string        `mapstructure:"url" yaml:"url"`
	Layout   string        `mapstructure:"layout" yaml:"layout,omitempty"`
	Username string        `mapstructure:"username" yaml:"username,omitempty"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// NetworkProxy is an HTTP or SOCKS proxy used by connectors.
type NetworkProxy struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Protocol string `mapstructure:"protocol" yaml:"protocol,omitempty"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// ProxyConnector links a managed repository to a remote one.
type ProxyConnector struct {
	Source    string            `mapstructure:"source" yaml:"source"`
	Target    string            `mapstructure:"target" yaml:"target"`
	Order     int               `mapstructure:"order" yaml:"order,omitempty"`
	Proxy     string            `mapstructure:"proxy" yaml:"proxy,omitempty"`
	Policies  map[string]string `mapstructure:"policies" yaml:"policies,omitempty"`
	Whitelist []string          `mapstructure:"whitelist" yaml:"whitelist,omitempty"`
	Blacklist []string          `mapstructure:"blacklist" yaml:"blacklist,omitempty"`
	Disabled  bool              `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// FileTypes holds the ANT style patterns that classify artifact files.
type FileTypes struct {
	Artifacts []string `mapstructure:"artifacts" yaml:"artifacts,omitempty"`
	Ignored   []string `mapstructure:"ignored" yaml:"ignored,omitempty"`
}

// Maven converts the patterns, falling back to the built in lists.
func (f FileTypes) Maven() maven.FileTypes {
	ft := maven.DefaultFileTypes()
	if len(f.Artifacts) > 0 {
		ft.Artifacts = append([]string(nil), f.Artifacts...)
	}
	if len(f.Ignored) > 0 {
		ft.Ignored = append([]string(nil), f.Ignored...)
	}
	return ft
}

// FailureCache configures the failure cache. An empty Path keeps failures
// in memory only.
type FailureCache struct {
	Path string        `mapstructure:"path" yaml:"path,omitempty"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`
	Size int           `mapstructure:"size" yaml:"size,omitempty"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Configuration {
	return &Configuration{
		Server: Server{Address: ":8080"},
		FailureCache: FailureCache{
			TTL:  time.Hour,
			Size: 10000,
		},
	}
}

// ManagedRepository returns the managed repository with id.
func (c *Configuration) ManagedRepository(id string) (ManagedRepository, bool) {
	for _, r := range c.ManagedRepositories {
		if r.ID == id {
			return r, true
		}
	}
	return ManagedRepository{}, false
}

// RemoteRepository returns the remote repository with id.
func (c *Configuration) RemoteRepository(id string) (RemoteRepository, bool) {
	for _, r := range c.RemoteRepositories {
		if r.ID == id {
			return r, true
		}
	}
	return RemoteRepository{}, false
}

// NetworkProxy returns the network proxy with id.
func (c *Configuration) NetworkProxy(id string) (NetworkProxy, bool) {
	for _, p := range c.NetworkProxies {
		if p.ID == id {
			return p, true
		}
	}
	return NetworkProxy{}, false
}

// ApplyCredentials copies resolved secrets onto remote repositories and
// network proxies. Values already in the configuration are overwritten only
// by non-empty secrets.
func (c *Configuration) ApplyCredentials(creds *credentials.Credentials) {
	for i := range c.RemoteRepositories {
		r := &c.RemoteRepositories[i]
		if s, ok := creds.Repository(r.ID); ok {
			if s.Username != "" {
				r.Username = s.Username
			}
			if s.Password != "" {
				r.Password = s.Password
			}
		}
	}
	for i := range c.NetworkProxies {
		p := &c.NetworkProxies[i]
		if s, ok := creds.NetworkProxy(p.ID); ok {
			if s.Username != "" {
				p.Username = s.Username
			}
			if s.Password != "" {
				p.Password = s.Password
			}
		}
	}
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	out := *c
	out.ManagedRepositories = append([]ManagedRepository(nil), c.ManagedRepositories...)
	out.RemoteRepositories = append([]RemoteRepository(nil), c.RemoteRepositories...)
	out.NetworkProxies = append([]NetworkProxy(nil), c.NetworkProxies...)
	out.ProxyConnectors = make([]ProxyConnector, len(c.ProxyConnectors))
	for i, pc := range c.ProxyConnectors {
		pc.Whitelist = append([]string(nil), pc.Whitelist...)
		pc.Blacklist = append([]string(nil), pc.Blacklist...)
		if pc.Policies != nil {
			policies := make(map[string]string, len(pc.Policies))
			for k, v := range pc.Policies {
				policies[k] = v
			}
			pc.Policies = policies
		}
		out.ProxyConnectors[i] = pc
	}
	if c.ProxyConnectors == nil {
		out.ProxyConnectors = nil
	}
	out.FileTypes.Artifacts = append([]string(nil), c.FileTypes.Artifacts...)
	out.FileTypes.Ignored = append([]string(nil), c.FileTypes.Ignored...)
	return &out
}

// Validate checks references between sections, identifier uniqueness,
// layouts, patterns and policy settings.
func (c *Configuration) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	ids := make(map[string]string)
	for _, r := range c.ManagedRepositories {
		if r.ID == "" || r.Location == "" {
			fail("managed repository %q needs an id and a location", r.ID)
		}
		if prev, dup := ids[r.ID]; dup {
			fail("repository id %q is used by a %s repository", r.ID, prev)
		}
		ids[r.ID] = "managed"
		if _, err := maven.LayoutFor(r.Layout); err != nil {
			fail("managed repository %q: %w", r.ID, err)
		}
	}
	for _, r := range c.RemoteRepositories {
		if r.ID == "" || r.URL == "" {
			fail("remote repository %q needs an id and a url", r.ID)
		}
		if prev, dup := ids[r.ID]; dup {
			fail("repository id %q is used by a %s repository", r.ID, prev)
		}
		ids[r.ID] = "remote"
		if _, err := maven.LayoutFor(r.Layout); err != nil {
			fail("remote repository %q: %w", r.ID, err)
		}
	}

	proxies := make(map[string]bool)
	for _, p := range c.NetworkProxies {
		if proxies[p.ID] {
			fail("network proxy id %q is not unique", p.ID)
		}
		proxies[p.ID] = true
	}

	pairs := make(map[string]bool)
	for _, pc := range c.ProxyConnectors {
		name := pc.Source + "->" + pc.Target
		if ids[pc.Source] != "managed" {
			fail("connector %s: source is not a managed repository", name)
		}
		if ids[pc.Target] != "remote" {
			fail("connector %s: target is not a remote repository", name)
		}
		if pc.Proxy != "" && !proxies[pc.Proxy] {
			fail("connector %s: unknown network proxy %q", name, pc.Proxy)
		}
		if pairs[name] {
			fail("connector %s is defined twice", name)
		}
		pairs[name] = true
		if pc.Order < 0 {
			fail("connector %s: order must not be negative", name)
		}
		if _, err := policy.ParseSettings(pc.Policies); err != nil {
			fail("connector %s: %w", name, err)
		}
		if err := maven.ValidatePatterns(pc.Whitelist); err != nil {
			fail("connector %s whitelist: %w", name, err)
		}
		if err := maven.ValidatePatterns(pc.Blacklist); err != nil {
			fail("connector %s blacklist: %w", name, err)
		}
	}

	if err := maven.ValidatePatterns(c.FileTypes.Artifacts); err != nil {
		fail("file types: %w", err)
	}
	if err := maven.ValidatePatterns(c.FileTypes.Ignored); err != nil {
		fail("file types: %w", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	credentials *credentials.Credentials
}

// WithCredentials merges resolved secrets into the loaded configuration.
func WithCredentials(creds *credentials.Credentials) LoadOption {
	return func(o *loadOptions) {
		o.credentials = creds
	}
}

// Load reads the YAML file at path, checks it against the embedded schema,
// applies REPOPROXY_* environment overrides and validates the result.
func Load(path string, opts ...LoadOption) (*Configuration, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is configured at startup
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, opts...)
}

// Parse decodes a YAML document the way Load does.
func Parse(data []byte, opts ...LoadOption) (*Configuration, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if o.credentials != nil {
		cfg.ApplyCredentials(o.credentials)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Configuration) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.credentials_file", d.Server.CredentialsFile)
	v.SetDefault("failure_cache.path", d.FailureCache.Path)
	v.SetDefault("failure_cache.ttl", d.FailureCache.TTL)
	v.SetDefault("failure_cache.size", d.FailureCache.Size)
}
