package model

// Image is a tagged build artifact pushed to the registry.
type Image struct {
	Name       string `json:"name"`       // build target: backend, reverse-proxy
	Repository string `json:"repository"` // ghcr.io/org/node
	Tag        string `json:"tag"`
	Digest     string `json:"digest,omitempty"`
}

// Ref returns repository:tag.
func (i Image) Ref() string {
	return i.Repository + ":" + i.Tag
}

// Pinned returns repository@digest when the digest is known, else Ref().
func (i Image) Pinned() string {
	if i.Digest == "" {
		return i.Ref()
	}
	return i.Repository + "@" + i.Digest
}
