package store

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// legacyPrefixes and legacyKeys are the older KV shapes a one-time
// migration archives and clears before the kernel starts writing its own
// session:*/trace:*/skills:* shapes into the same store.
var (
	legacyPrefixes = []string{
		"session:meta:", "session:entries:", "trace:",
		"loop:", "planner:", "runtime:", "memory:", "brain-loop:",
	}
	legacyKeys = []string{"chatState", "chatState.v1", "chatState.v2"}
)

const archiveIndexKey = "archive:legacy:index"

// ArchiveEntry is the persisted shape of one archived snapshot.
type ArchiveEntry struct {
	ArchivedAt string         `json:"archivedAt"`
	Source     string         `json:"source"`
	Keys       []string       `json:"keys"`
	Data       map[string]any `json:"data"`
}

// ArchiveIndex tracks every archive key written, so a later audit can
// enumerate archived snapshots without a KV prefix-scan.
type ArchiveIndex struct {
	ArchiveKeys []string `json:"archiveKeys"`
}

// ArchiveLegacyState reads every key matching the legacy prefixes/well-
// known names, writes them as one ArchiveEntry under
// "archive:legacy:<timestamp>", appends that key to the archive index,
// then deletes the originals. Returns the archive key written, or ""
// if there was nothing to archive.
func ArchiveLegacyState(ctx context.Context, kv KVStore, source string) (string, error) {
	keys, err := collectLegacyKeys(ctx, kv)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}

	data := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := kv.KVGet(ctx, k)
		if err != nil {
			return "", fmt.Errorf("archive: read %q: %w", k, err)
		}
		data[k] = v
	}

	archiveKey := "archive:legacy:" + kerntypes.NowISO()
	entry := ArchiveEntry{ArchivedAt: kerntypes.NowISO(), Source: source, Keys: keys, Data: data}
	if err := kv.KVSet(ctx, archiveKey, entry); err != nil {
		return "", fmt.Errorf("archive: write %q: %w", archiveKey, err)
	}

	if err := appendToIndex(ctx, kv, archiveKey); err != nil {
		return "", err
	}

	for _, k := range keys {
		if err := kv.KVRemove(ctx, k); err != nil {
			return "", fmt.Errorf("archive: remove %q: %w", k, err)
		}
	}
	return archiveKey, nil
}

func collectLegacyKeys(ctx context.Context, kv KVStore) ([]string, error) {
	var keys []string
	for _, prefix := range legacyPrefixes {
		matched, err := kv.KVKeysWithPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("archive: scan prefix %q: %w", prefix, err)
		}
		keys = append(keys, matched...)
	}
	for _, k := range legacyKeys {
		v, err := kv.KVGet(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("archive: probe %q: %w", k, err)
		}
		if v != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func appendToIndex(ctx context.Context, kv KVStore, archiveKey string) error {
	raw, err := kv.KVGet(ctx, archiveIndexKey)
	if err != nil {
		return fmt.Errorf("archive: read index: %w", err)
	}
	idx := ArchiveIndex{}
	if m, ok := raw.(map[string]any); ok {
		if list, ok := m["archiveKeys"].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					idx.ArchiveKeys = append(idx.ArchiveKeys, s)
				}
			}
		}
	} else if existing, ok := raw.(ArchiveIndex); ok {
		idx = existing
	}
	idx.ArchiveKeys = append(idx.ArchiveKeys, archiveKey)
	return kv.KVSet(ctx, archiveIndexKey, idx)
}

// ResetLegacyState deletes every key matching the legacy prefixes/
// well-known names without archiving them first — used after a
// successful ArchiveLegacyState, or standalone when the operator has
// already confirmed the legacy data is disposable.
func ResetLegacyState(ctx context.Context, kv KVStore) error {
	keys, err := collectLegacyKeys(ctx, kv)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := kv.KVRemove(ctx, k); err != nil {
			return fmt.Errorf("reset: remove %q: %w", k, err)
		}
	}
	return nil
}
