package image

import (
	"context"
	"fmt"
	"strings"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// RegistryChecker confirms a pushed tag exists by resolving it to a digest.
type RegistryChecker struct {
	User      string
	Token     string
	PlainHTTP bool
}

// Resolve returns the manifest digest for repo:tag.
func (c *RegistryChecker) Resolve(ctx context.Context, ref string) (string, error) {
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i:], "/") {
		return "", fmt.Errorf("reference %q has no tag", ref)
	}
	repoName, tag := ref[:i], ref[i+1:]

	repo, err := remote.NewRepository(repoName)
	if err != nil {
		return "", fmt.Errorf("invalid repo: %w", err)
	}
	repo.PlainHTTP = c.PlainHTTP
	if c.Token != "" {
		repo.Client = &auth.Client{
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: c.User,
				Password: c.Token,
			}),
			Cache: auth.NewCache(),
		}
	}

	desc, err := repo.Resolve(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return desc.Digest.String(), nil
}
