package skills

import (
	"context"
	"fmt"
	"strings"
)

// ContentReader returns the UTF-8 text stored at location.
type ContentReader func(ctx context.Context, location string) (string, error)

// Resolver builds prompt blocks for skills registered in a Registry.
type Resolver struct {
	registry *Registry
	read     ContentReader
}

// NewResolver builds a resolver over registry, reading skill bodies via read.
func NewResolver(registry *Registry, read ContentReader) *Resolver {
	return &Resolver{registry: registry, read: read}
}

// ResolveOptions controls Resolve.
type ResolveOptions struct {
	AllowDisabled bool
}

// Resolve returns the `<skill id="…" name="…" location="…">…</skill>`
// prompt block for id. A disabled skill fails unless AllowDisabled is set.
func (r *Resolver) Resolve(ctx context.Context, id string, opts ResolveOptions) (string, error) {
	meta, ok, err := r.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("skill %q not found", id)
	}
	if !meta.Enabled && !opts.AllowDisabled {
		return "", fmt.Errorf("skill 未启用: %s", id)
	}

	body, err := r.read(ctx, meta.Location)
	if err != nil {
		return "", fmt.Errorf("skills: read %q: %w", meta.Location, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<skill id=%q name=%q location=%q>", meta.ID, meta.Name, meta.Location)
	b.WriteString(body)
	b.WriteString("</skill>")
	return b.String(), nil
}
