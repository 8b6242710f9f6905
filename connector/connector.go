// Package connector holds the proxy connectors that link managed
// repositories to remote ones, in the order they are consulted.
package connector

import (
	"fmt"

	"github.com/wolfeidau/repository-proxy/policy"
	"github.com/wolfeidau/repository-proxy/protocol/maven"
	"github.com/wolfeidau/repository-proxy/repository"
)

// Connector links a managed source repository to a remote target.
type Connector struct {
	Source *repository.Repository
	Target *repository.Repository

	// Order ranks connectors of one source, ascending. Zero means unordered;
	// unordered connectors are consulted after all ordered ones.
	Order int

	NetworkProxyID string
	Settings       policy.Settings
	Whitelist      []string
	Blacklist      []string
	Disabled       bool
}

// Whitelisted reports whether path passes the whitelist. An empty whitelist
// admits every path.
func (c *Connector) Whitelisted(path string) bool {
	return len(c.Whitelist) == 0 || maven.MatchAny(c.Whitelist, path)
}

// Blacklisted reports whether path matches a blacklist pattern.
func (c *Connector) Blacklisted(path string) bool {
	return maven.MatchAny(c.Blacklist, path)
}

// Allows reports whether the connector may fetch path.
func (c *Connector) Allows(path string) bool {
	return c.Whitelisted(path) && !c.Blacklisted(path)
}

func (c *Connector) String() string {
	return fmt.Sprintf("%s->%s", c.Source.ID, c.Target.ID)
}
