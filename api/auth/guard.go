// Package auth restricts the release API to operators. Requests carry either
// the static API token or a Cloudflare Access assertion.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"nodeship/api/logging"
)

const accessHeader = "Cf-Access-Jwt-Assertion"

type Options struct {
	Token string // static bearer token; empty disables token access

	// Cloudflare Access; both must be set to accept assertions
	TeamDomain string
	Audience   string
	// AllowedEmails restricts Access identities; empty accepts any.
	AllowedEmails []string

	// Public paths bypass the guard (webhooks carry their own signature).
	Public []string

	Client *http.Client
	Log    *zap.Logger
}

type AccessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Guard struct {
	opts Options
	keys *keySet
	log  *zap.Logger
}

func NewGuard(o Options) *Guard {
	for i, e := range o.AllowedEmails {
		o.AllowedEmails[i] = strings.ToLower(strings.TrimSpace(e))
	}
	g := &Guard{opts: o, log: logging.OrNop(o.Log)}
	if o.TeamDomain != "" && o.Audience != "" {
		g.keys = newKeySet(fmt.Sprintf("https://%s/cdn-cgi/access/certs", o.TeamDomain), o.Client)
	}
	return g
}

// Enabled reports whether any access method is configured. A disabled guard
// lets every request through.
func (g *Guard) Enabled() bool {
	return g.opts.Token != "" || g.keys != nil
}

// VerifyAssertion checks an Access JWT and returns its claims.
func (g *Guard) VerifyAssertion(ctx context.Context, assertion string) (*AccessClaims, error) {
	if g.keys == nil {
		return nil, fmt.Errorf("access assertions not configured")
	}
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("assertion has no kid")
		}
		return g.keys.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(g.opts.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if len(g.opts.AllowedEmails) > 0 && !slices.Contains(g.opts.AllowedEmails, strings.ToLower(claims.Email)) {
		return nil, fmt.Errorf("identity %q not allowed", claims.Email)
	}
	return claims, nil
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() || slices.Contains(g.opts.Public, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if assertion := r.Header.Get(accessHeader); assertion != "" && g.keys != nil {
			claims, err := g.VerifyAssertion(r.Context(), assertion)
			if err != nil {
				g.log.Warn("access assertion rejected", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Email)))
			return
		}

		if g.opts.Token != "" {
			bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if ok && subtle.ConstantTimeCompare([]byte(bearer), []byte(g.opts.Token)) == 1 {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), "api-token")))
				return
			}
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

type identityKey struct{}

func WithIdentity(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, identityKey{}, who)
}

// Identity returns who made the request, or "" when the guard is off.
func Identity(ctx context.Context) string {
	who, _ := ctx.Value(identityKey{}).(string)
	return who
}
