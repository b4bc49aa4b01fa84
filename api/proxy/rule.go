package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrTrailingSlash = errors.New("location and upstream paths disagree on trailing slash")
	ErrConfigMissing = errors.New("routing config not found")
)

type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
)

// Substitution replaces the first occurrence of Marker in a proxied HTML
// response with Replacement.
type Substitution struct {
	Marker      string
	Replacement string
}

// Static serves a directory instead of contacting the upstream.
type Static struct {
	Root    string
	Listing bool
}

// RoutingRule maps a request path to either an upstream or a directory.
type RoutingRule struct {
	Path         string
	Match        MatchKind
	Upstream     string // http://node:8555/
	Substitution *Substitution
	Static       *Static
}

func (r RoutingRule) String() string {
	if r.Match == MatchExact {
		return "= " + r.Path
	}
	return r.Path
}

// ForwardPath maps a request path onto the upstream: the upstream path plus
// the request path with the location prefix removed. An upstream without a
// path receives the request path unchanged.
func (r RoutingRule) ForwardPath(reqPath string) string {
	u, err := url.Parse(r.Upstream)
	if err != nil || u.Path == "" {
		return reqPath
	}
	return u.Path + strings.TrimPrefix(reqPath, r.Path)
}

func (r RoutingRule) validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("location %q must start with /", r.Path)
	}
	if r.Match != MatchExact && r.Match != MatchPrefix {
		return fmt.Errorf("location %s: unknown match kind %q", r.Path, r.Match)
	}

	if r.Static != nil {
		if r.Upstream != "" {
			return fmt.Errorf("location %s: both upstream and static root set", r)
		}
		if r.Substitution != nil {
			return fmt.Errorf("location %s: substitution needs an upstream", r)
		}
		if r.Static.Root == "" {
			return fmt.Errorf("location %s: empty static root", r)
		}
		if strings.HasSuffix(r.Path, "/") != strings.HasSuffix(r.Static.Root, "/") {
			return fmt.Errorf("location %s alias %s: %w", r, r.Static.Root, ErrTrailingSlash)
		}
		return nil
	}

	u, err := url.Parse(r.Upstream)
	if err != nil {
		return fmt.Errorf("location %s: upstream: %w", r, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("location %s: upstream %q must be an absolute http(s) URL", r, r.Upstream)
	}
	if u.Path != "" && strings.HasSuffix(r.Path, "/") != strings.HasSuffix(u.Path, "/") {
		return fmt.Errorf("location %s upstream %s: %w", r, r.Upstream, ErrTrailingSlash)
	}
	if r.Substitution != nil && r.Substitution.Marker == "" {
		return fmt.Errorf("location %s: empty substitution marker", r)
	}
	return nil
}

// Config is the reverse proxy's complete routing table.
type Config struct {
	Listen int
	Rules  []RoutingRule
}

func (c Config) Validate() error {
	if c.Listen <= 0 || c.Listen > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Listen)
	}
	seen := map[string]bool{}
	for _, r := range c.Rules {
		if err := r.validate(); err != nil {
			return err
		}
		if seen[r.String()] {
			return fmt.Errorf("duplicate location %s", r)
		}
		seen[r.String()] = true
	}
	return nil
}

// DefaultRules is the node's routing table: the landing page with the
// navigation fragment injected, every other path proxied to the backend, and
// the blockchain directory served from disk.
func DefaultRules(backend, dataDir, marker, fragment string) []RoutingRule {
	if !strings.HasSuffix(dataDir, "/") {
		dataDir += "/"
	}
	root := RoutingRule{Path: "/", Match: MatchExact, Upstream: backend}
	if marker != "" {
		root.Substitution = &Substitution{Marker: marker, Replacement: fragment}
	}
	return []RoutingRule{
		root,
		{Path: "/", Match: MatchPrefix, Upstream: backend},
		{Path: "/blockchain/", Match: MatchPrefix, Static: &Static{Root: dataDir, Listing: true}},
	}
}
