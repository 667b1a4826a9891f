package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_GetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	v, err := s.KVGet(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLiteStore_SetGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.KVSet(ctx, "k", map[string]any{"a": float64(1)}))

	v, err := s.KVGet(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)
}

func TestSQLiteStore_SetOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.KVSet(ctx, "k", "v1"))
	require.NoError(t, s.KVSet(ctx, "k", "v2"))

	v, _ := s.KVGet(ctx, "k")
	assert.Equal(t, "v2", v)
}

func TestSQLiteStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.KVSet(ctx, "k", "v"))
	require.NoError(t, s.KVRemove(ctx, "k"))

	v, err := s.KVGet(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSQLiteStore_KeysWithPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.KVSet(ctx, "session:meta:a", "1"))
	require.NoError(t, s.KVSet(ctx, "session:meta:b", "2"))
	require.NoError(t, s.KVSet(ctx, "skills:meta:v1", "3"))

	keys, err := s.KVKeysWithPrefix(ctx, "session:meta:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session:meta:a", "session:meta:b"}, keys)
}
