package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_BuildsSkillBlock(t *testing.T) {
	kv := newFakeKV()
	reg := NewRegistry(kv)
	ctx := context.Background()
	_, err := reg.Install(ctx, SkillMetadata{ID: "git", Name: "Git Helper", Location: "skills/git.md"})
	require.NoError(t, err)
	require.NoError(t, reg.Enable(ctx, "git"))

	resolver := NewResolver(reg, func(ctx context.Context, location string) (string, error) {
		return "do git things", nil
	})

	block, err := resolver.Resolve(ctx, "git", ResolveOptions{})
	require.NoError(t, err)
	assert.Contains(t, block, `id="git"`)
	assert.Contains(t, block, `name="Git Helper"`)
	assert.Contains(t, block, `location="skills/git.md"`)
	assert.Contains(t, block, "do git things")
}

func TestResolver_DisabledSkillFailsUnlessAllowed(t *testing.T) {
	kv := newFakeKV()
	reg := NewRegistry(kv)
	ctx := context.Background()
	_, err := reg.Install(ctx, SkillMetadata{ID: "git", Name: "Git", Location: "l"})
	require.NoError(t, err)

	resolver := NewResolver(reg, func(ctx context.Context, location string) (string, error) {
		return "body", nil
	})

	_, err = resolver.Resolve(ctx, "git", ResolveOptions{})
	assert.Error(t, err)

	block, err := resolver.Resolve(ctx, "git", ResolveOptions{AllowDisabled: true})
	require.NoError(t, err)
	assert.Contains(t, block, "body")
}

func TestResolver_UnknownSkillErrors(t *testing.T) {
	kv := newFakeKV()
	reg := NewRegistry(kv)
	resolver := NewResolver(reg, func(ctx context.Context, location string) (string, error) { return "", nil })

	_, err := resolver.Resolve(context.Background(), "missing", ResolveOptions{})
	assert.Error(t, err)
}
