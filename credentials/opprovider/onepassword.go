// Package opprovider resolves credentials template references through the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfeidau/repository-proxy/credentials"
)

// DefaultCommand is the 1Password CLI binary looked up on PATH.
const DefaultCommand = "op"

type settings struct {
	command string
	account string
}

// Option configures the provider.
type Option func(*settings)

// WithCommand sets the CLI binary.
func WithCommand(command string) Option {
	return func(s *settings) {
		s.command = command
	}
}

// WithAccount selects the 1Password account passed as --account.
func WithAccount(account string) Option {
	return func(s *settings) {
		s.account = account
	}
}

// WithOnePassword registers an "op" template function that resolves
// op://vault/item/field references with `op read`, for example:
//
//	{"repositories": {"internal": {"password": {{ op "op://infra/nexus/password" | json }}}}}
func WithOnePassword(opts ...Option) credentials.ResolverOption {
	s := settings{command: DefaultCommand}
	for _, opt := range opts {
		opt(&s)
	}

	return credentials.WithProvider("op", func(ctx context.Context, ref string) (string, error) {
		if !strings.HasPrefix(ref, "op://") {
			return "", fmt.Errorf("op reference %q must start with op://", ref)
		}

		args := []string{"read", "--no-newline"}
		if s.account != "" {
			args = append(args, "--account", s.account)
		}
		args = append(args, ref)

		cmd := exec.CommandContext(ctx, s.command, args...)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
		}

		return strings.TrimSpace(stdout.String()), nil
	})
}
