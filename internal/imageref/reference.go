package imageref

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// DefaultRegistry is how the public Docker Hub registry is reported.
const DefaultRegistry = "docker.io"

// ErrEmptyReference is returned for blank image strings.
var ErrEmptyReference = errors.New("empty image reference")

// Reference is a parsed container image reference without its digest.
type Reference struct {
	Raw        string // the image string as found in the pod spec
	Registry   string // ex: "docker.io", "ghcr.io", "myregistry.local:5000"
	Repository string // ex: "library/nginx"
	Tag        string // "latest" when the image carries no tag
}

// Repo returns "<registry>/<repository>", the key used for tag lookups.
func (r Reference) Repo() string {
	return r.Registry + "/" + r.Repository
}

func (r Reference) String() string {
	return r.Repo() + ":" + r.Tag
}

// Parse splits an image string into registry, repository and tag.
//
// A "@digest" suffix is dropped since it carries no comparable version.
// The first path segment is a registry only when it contains a dot or a
// colon or equals "localhost"; otherwise the image lives on Docker Hub and
// single-segment repositories get the implicit "library/" namespace.
func Parse(image string) (Reference, error) {
	raw := strings.TrimSpace(image)
	if raw == "" {
		return Reference{}, ErrEmptyReference
	}

	withoutDigest := raw
	if i := strings.Index(withoutDigest, "@"); i >= 0 {
		withoutDigest = withoutDigest[:i]
	}
	if withoutDigest == "" {
		return Reference{}, fmt.Errorf("image %q has no repository", raw)
	}

	opts := []name.Option{name.WeakValidation}
	// name only treats a first segment containing '.' or ':' as a registry.
	if rest, ok := strings.CutPrefix(withoutDigest, "localhost/"); ok {
		withoutDigest = rest
		opts = append(opts, name.WithDefaultRegistry("localhost"))
	}

	tag, err := name.NewTag(withoutDigest, opts...)
	if err != nil {
		return Reference{}, fmt.Errorf("parse image %q: %w", raw, err)
	}

	registry := tag.RegistryStr()
	if registry == name.DefaultRegistry {
		registry = DefaultRegistry
	}

	return Reference{
		Raw:        raw,
		Registry:   registry,
		Repository: tag.RepositoryStr(),
		Tag:        tag.TagStr(),
	}, nil
}
