package deployer

import (
	"strings"
)

// ScriptSource locates the deployment script executed on the target host.
type ScriptSource struct {
	BaseURL string // https://raw.githubusercontent.com/org/repo
	Ref     string // commit SHA or tag
	Path    string // scripts/deploy.sh
	SHA256  string // optional expected digest of the fetched script
}

var movingRefs = map[string]bool{"master": true, "main": true, "latest": true, "HEAD": true, "": true}

// URL returns the script URL pinned to Ref.
func (s ScriptSource) URL() string {
	ref := s.Ref
	if ref == "" {
		ref = "HEAD"
	}
	return strings.TrimSuffix(s.BaseURL, "/") + "/" + ref + "/" + strings.TrimPrefix(s.Path, "/")
}

// Moving reports whether Ref can point at different content over time.
func (s ScriptSource) Moving() bool {
	return movingRefs[s.Ref]
}

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func command(argv ...string) string {
	q := make([]string, len(argv))
	for i, a := range argv {
		q[i] = quote(a)
	}
	return strings.Join(q, " ")
}
