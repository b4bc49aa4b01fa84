package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var ErrSecretNotFound = errors.New("secret not found")

// Store resolves named credentials (registry token, deploy key, deploy
// credential). Values are never logged by callers.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvStore reads secrets from environment variables, optionally prefixed.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

func (s *EnvStore) Get(_ context.Context, key string) (string, error) {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(s.Prefix + key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s%s: %w", s.Prefix, key, ErrSecretNotFound)
}

// MapStore is a fixed set of secrets.
type MapStore map[string]string

func (m MapStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

// Chain tries each store in order and returns the first hit.
type Chain []Store

func (c Chain) Get(ctx context.Context, key string) (string, error) {
	for _, s := range c {
		v, err := s.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizePEM restores newlines in keys stored on a single line.
func normalizePEM(v string) string {
	if strings.Contains(v, "-----BEGIN") && !strings.Contains(v, "\n") {
		return strings.ReplaceAll(v, `\n`, "\n")
	}
	return v
}
