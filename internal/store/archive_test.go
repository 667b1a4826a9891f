package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveLegacyState_NoopWhenNothingLegacy(t *testing.T) {
	kv := NewMemStore()
	key, err := ArchiveLegacyState(context.Background(), kv, "test")
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestArchiveLegacyState_ArchivesAndDeletesOriginals(t *testing.T) {
	kv := NewMemStore()
	ctx := context.Background()
	require.NoError(t, kv.KVSet(ctx, "session:meta:abc", "old-meta"))
	require.NoError(t, kv.KVSet(ctx, "chatState", "old-chat-state"))
	require.NoError(t, kv.KVSet(ctx, "skills:meta:v1", "keep-me"))

	archiveKey, err := ArchiveLegacyState(ctx, kv, "migration")
	require.NoError(t, err)
	require.NotEmpty(t, archiveKey)

	v, _ := kv.KVGet(ctx, "session:meta:abc")
	assert.Nil(t, v)
	v, _ = kv.KVGet(ctx, "chatState")
	assert.Nil(t, v)

	v, _ = kv.KVGet(ctx, "skills:meta:v1")
	assert.Equal(t, "keep-me", v)

	archived, _ := kv.KVGet(ctx, archiveKey)
	entry, ok := archived.(ArchiveEntry)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"session:meta:abc", "chatState"}, entry.Keys)
}

func TestArchiveLegacyState_IndexAccumulates(t *testing.T) {
	kv := NewMemStore()
	ctx := context.Background()
	require.NoError(t, kv.KVSet(ctx, "loop:a", "x"))
	k1, err := ArchiveLegacyState(ctx, kv, "first")
	require.NoError(t, err)

	require.NoError(t, kv.KVSet(ctx, "planner:b", "y"))
	k2, err := ArchiveLegacyState(ctx, kv, "second")
	require.NoError(t, err)

	raw, _ := kv.KVGet(ctx, archiveIndexKey)
	idx, ok := raw.(ArchiveIndex)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{k1, k2}, idx.ArchiveKeys)
}

func TestResetLegacyState_RemovesWithoutArchiving(t *testing.T) {
	kv := NewMemStore()
	ctx := context.Background()
	require.NoError(t, kv.KVSet(ctx, "memory:x", "y"))

	require.NoError(t, ResetLegacyState(ctx, kv))

	v, _ := kv.KVGet(ctx, "memory:x")
	assert.Nil(t, v)
	raw, _ := kv.KVGet(ctx, archiveIndexKey)
	assert.Nil(t, raw)
}
