package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

const metaKey = "skills:meta:v1"

// KVStore is the narrow slice of the external KV contract the skill
// registry needs.
type KVStore interface {
	KVGet(ctx context.Context, key string) (any, error)
	KVSet(ctx context.Context, key string, value any) error
}

// Registry manages SkillMetadata persisted under a single KV key. Every
// mutation is serialised through a single async tail (next = prev.then(op))
// so concurrent callers observe linearizable order and the persisted
// snapshot is always internally consistent — a single global tail, since
// the whole registry is one document rather than one document per session.
type Registry struct {
	kv KVStore

	mu   sync.Mutex // unused: tail serialises mutations, cacheMu guards the cache
	tail chan struct{}

	cacheMu sync.RWMutex
	cache   map[string]SkillMetadata
	loaded  bool
}

// NewRegistry returns a registry backed by kv.
func NewRegistry(kv KVStore) *Registry {
	tail := make(chan struct{}, 1)
	tail <- struct{}{}
	return &Registry{kv: kv, tail: tail, cache: make(map[string]SkillMetadata)}
}

// acquire blocks until it is this caller's turn on the tail, returning a
// release func. Using a buffered channel of capacity 1 as a mutex gives
// FIFO ordering identical to a promise-chain tail: callers that call
// acquire in program order are released in that same order.
func (r *Registry) acquire(ctx context.Context) (func(), error) {
	select {
	case <-r.tail:
		return func() { r.tail <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.cacheMu.RLock()
	loaded := r.loaded
	r.cacheMu.RUnlock()
	if loaded {
		return nil
	}

	raw, err := r.kv.KVGet(ctx, metaKey)
	if err != nil {
		return fmt.Errorf("skills: load %s: %w", metaKey, err)
	}

	doc := metaDoc{Version: metaDocVersion}
	if raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("skills: re-marshal stored value: %w", err)
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("skills: decode %s: %w", metaKey, err)
		}
	}

	r.cacheMu.Lock()
	for _, s := range doc.Skills {
		r.cache[s.ID] = s
	}
	r.loaded = true
	r.cacheMu.Unlock()
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	r.cacheMu.RLock()
	skills := make([]SkillMetadata, 0, len(r.cache))
	for _, s := range r.cache {
		skills = append(skills, s)
	}
	r.cacheMu.RUnlock()

	sort.Slice(skills, func(i, j int) bool {
		if skills[i].Name != skills[j].Name {
			return skills[i].Name < skills[j].Name
		}
		return skills[i].ID < skills[j].ID
	})

	return r.kv.KVSet(ctx, metaKey, metaDoc{Version: metaDocVersion, Skills: skills})
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Install validates and upserts a skill's metadata. Location must be
// non-empty; CreatedAt is set only on first install, UpdatedAt always.
func (r *Registry) Install(ctx context.Context, meta SkillMetadata) (SkillMetadata, error) {
	if strings.TrimSpace(meta.Location) == "" {
		return SkillMetadata{}, fmt.Errorf("skills: location must not be empty")
	}
	meta.ID = normalizeID(meta.ID)

	release, err := r.acquire(ctx)
	if err != nil {
		return SkillMetadata{}, err
	}
	defer release()

	if err := r.ensureLoaded(ctx); err != nil {
		return SkillMetadata{}, err
	}

	now := kerntypes.NowISO()
	r.cacheMu.Lock()
	if existing, ok := r.cache[meta.ID]; ok {
		meta.CreatedAt = existing.CreatedAt
	} else {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	r.cache[meta.ID] = meta
	r.cacheMu.Unlock()

	if err := r.persist(ctx); err != nil {
		return SkillMetadata{}, err
	}
	return meta.clone(), nil
}

// setEnabled is the shared implementation of Enable/Disable.
func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	id = normalizeID(id)
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}

	r.cacheMu.Lock()
	meta, ok := r.cache[id]
	if !ok {
		r.cacheMu.Unlock()
		return fmt.Errorf("skills: %q not found", id)
	}
	meta.Enabled = enabled
	meta.UpdatedAt = kerntypes.NowISO()
	r.cache[id] = meta
	r.cacheMu.Unlock()

	return r.persist(ctx)
}

// Enable marks a skill enabled.
func (r *Registry) Enable(ctx context.Context, id string) error { return r.setEnabled(ctx, id, true) }

// Disable marks a skill disabled.
func (r *Registry) Disable(ctx context.Context, id string) error { return r.setEnabled(ctx, id, false) }

// Uninstall removes a skill's metadata entirely.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	id = normalizeID(id)
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	return r.persist(ctx)
}

// Get returns a clone of one skill's metadata.
func (r *Registry) Get(ctx context.Context, id string) (SkillMetadata, bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return SkillMetadata{}, false, err
	}
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	meta, ok := r.cache[normalizeID(id)]
	return meta.clone(), ok, nil
}

// List returns clones of every skill, sorted by (name, id).
func (r *Registry) List(ctx context.Context) ([]SkillMetadata, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.cacheMu.RLock()
	out := make([]SkillMetadata, 0, len(r.cache))
	for _, s := range r.cache {
		out = append(out, s.clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
