package image

import (
	"regexp"
	"strings"

	"nodeship/api/model"
)

var unsafeTagChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// TagFor derives the image tag for a trigger: the first 12 characters of the
// commit SHA, or the sanitized ref name when no SHA is known. Rebuilding the
// same commit produces the same tag.
func TagFor(t model.Trigger) string {
	if t.SHA != "" {
		return t.ShortSHA()
	}
	ref := t.Ref
	for _, p := range []string{"refs/heads/", "refs/tags/"} {
		ref = strings.TrimPrefix(ref, p)
	}
	tag := strings.Trim(unsafeTagChars.ReplaceAllString(ref, "-"), "-.")
	if tag == "" {
		return "latest"
	}
	if len(tag) > 128 {
		tag = tag[:128]
	}
	return tag
}
