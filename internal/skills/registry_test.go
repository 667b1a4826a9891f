package skills

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	mu    sync.Mutex
	store map[string]any
	sets  int
}

func newFakeKV() *fakeKV { return &fakeKV{store: make(map[string]any)} }

func (f *fakeKV) KVGet(ctx context.Context, key string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[key], nil
}

func (f *fakeKV) KVSet(ctx context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// round-trip through JSON like a real KV store would, so the test
	// reads back exactly what Get/List would.
	b, _ := json.Marshal(value)
	var decoded any
	_ = json.Unmarshal(b, &decoded)
	f.store[key] = decoded
	f.sets++
	return nil
}

func TestRegistry_InstallRejectsEmptyLocation(t *testing.T) {
	r := NewRegistry(newFakeKV())
	_, err := r.Install(context.Background(), SkillMetadata{ID: "a", Name: "A"})
	assert.Error(t, err)
}

func TestRegistry_InstallSetsCreatedAtOnceUpdatedAtAlways(t *testing.T) {
	kv := newFakeKV()
	r := NewRegistry(kv)
	ctx := context.Background()

	first, err := r.Install(ctx, SkillMetadata{ID: "a", Name: "A", Location: "loc"})
	require.NoError(t, err)
	require.NotEmpty(t, first.CreatedAt)

	second, err := r.Install(ctx, SkillMetadata{ID: "a", Name: "A2", Location: "loc2"})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "A2", second.Name)
}

func TestRegistry_GetListReturnSortedClones(t *testing.T) {
	kv := newFakeKV()
	r := NewRegistry(kv)
	ctx := context.Background()

	_, err := r.Install(ctx, SkillMetadata{ID: "b", Name: "Bravo", Location: "l"})
	require.NoError(t, err)
	_, err = r.Install(ctx, SkillMetadata{ID: "a", Name: "Alpha", Location: "l"})
	require.NoError(t, err)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "Bravo", list[1].Name)

	list[0].Name = "mutated"
	againList, _ := r.List(ctx)
	assert.Equal(t, "Alpha", againList[0].Name)
}

func TestRegistry_EnableDisableUninstall(t *testing.T) {
	kv := newFakeKV()
	r := NewRegistry(kv)
	ctx := context.Background()

	_, err := r.Install(ctx, SkillMetadata{ID: "a", Name: "A", Location: "l"})
	require.NoError(t, err)

	require.NoError(t, r.Enable(ctx, "a"))
	meta, ok, _ := r.Get(ctx, "a")
	require.True(t, ok)
	assert.True(t, meta.Enabled)

	require.NoError(t, r.Disable(ctx, "a"))
	meta, _, _ = r.Get(ctx, "a")
	assert.False(t, meta.Enabled)

	require.NoError(t, r.Uninstall(ctx, "a"))
	_, ok, _ = r.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentInstallsSerializeAndPersistFinalState(t *testing.T) {
	kv := newFakeKV()
	r := NewRegistry(kv)
	ctx := context.Background()

	var wg sync.WaitGroup
	n := 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			id := "skill"
			_, err := r.Install(ctx, SkillMetadata{ID: id, Name: "N", Location: "loc"})
			assert.NoError(t, err)
			_ = i
		}()
	}
	wg.Wait()

	assert.Equal(t, n, kv.sets)
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRegistry_PersistedDocumentRoundTrips(t *testing.T) {
	kv := newFakeKV()
	r := NewRegistry(kv)
	ctx := context.Background()

	_, err := r.Install(ctx, SkillMetadata{ID: "a", Name: "A", Location: "l"})
	require.NoError(t, err)

	raw, _ := kv.KVGet(ctx, metaKey)
	m, ok := raw.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(metaDocVersion), m["version"])
}
