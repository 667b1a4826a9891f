package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// KVSessionStore layers a KernelSessionStore over an arbitrary KVStore
// (internal/kvstore.SQLiteStore being the reference implementation),
// JSON-encoding SessionContext and trace chunks under namespaced keys — for
// any deployment that has a KV store already wired but no dedicated
// session-transcript table; cmd/kernelctl smoke uses it over
// kvstore.SQLiteStore. MemStore remains the lighter-weight choice for tests.
type KVSessionStore struct {
	kv KVStore
}

// NewKVSessionStore wraps kv.
func NewKVSessionStore(kv KVStore) *KVSessionStore {
	return &KVSessionStore{kv: kv}
}

func sessionKey(sessionID string) string { return "kernel:session:" + sessionID }
func traceKey(traceID string, chunkIndex int) string {
	return fmt.Sprintf("kernel:trace:%s:%06d", traceID, chunkIndex)
}

func (s *KVSessionStore) loadContext(ctx context.Context, sessionID string) (kerntypes.SessionContext, bool, error) {
	raw, err := s.kv.KVGet(ctx, sessionKey(sessionID))
	if err != nil {
		return kerntypes.SessionContext{}, false, err
	}
	if raw == nil {
		return kerntypes.SessionContext{}, false, nil
	}
	// KVStore implementations round-trip through JSON already (see
	// kvstore.SQLiteStore), so raw here is a decoded any — re-encode and
	// decode into the concrete type rather than trust a type assertion.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return kerntypes.SessionContext{}, false, err
	}
	var sessCtx kerntypes.SessionContext
	if err := json.Unmarshal(encoded, &sessCtx); err != nil {
		return kerntypes.SessionContext{}, false, err
	}
	return sessCtx, true, nil
}

func (s *KVSessionStore) CreateSession(ctx context.Context, sessionID string) (CreateSessionResult, error) {
	if _, ok, err := s.loadContext(ctx, sessionID); err != nil {
		return CreateSessionResult{}, err
	} else if !ok {
		if err := s.kv.KVSet(ctx, sessionKey(sessionID), kerntypes.SessionContext{}); err != nil {
			return CreateSessionResult{}, err
		}
	}
	return CreateSessionResult{Header: SessionHeader{ID: sessionID}}, nil
}

func (s *KVSessionStore) AppendMessage(ctx context.Context, sessionID string, role kerntypes.MessageRole, text string) error {
	sessCtx, ok, err := s.loadContext(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("store: session %q not found", sessionID)
	}
	sessCtx.Entries = append(sessCtx.Entries, kerntypes.NewMessageEntry(role, text))
	return s.kv.KVSet(ctx, sessionKey(sessionID), sessCtx)
}

func (s *KVSessionStore) AppendCompaction(ctx context.Context, sessionID, reason string, draft kerntypes.SessionEntry, meta map[string]any) (AppendCompactionResult, error) {
	sessCtx, ok, err := s.loadContext(ctx, sessionID)
	if err != nil {
		return AppendCompactionResult{}, err
	}
	if !ok {
		return AppendCompactionResult{}, fmt.Errorf("store: session %q not found", sessionID)
	}
	sessCtx.Entries = append(sessCtx.Entries, draft)
	if draft.Compaction != nil {
		sessCtx.PreviousSummary = draft.Compaction.Summary
	}
	if err := s.kv.KVSet(ctx, sessionKey(sessionID), sessCtx); err != nil {
		return AppendCompactionResult{}, err
	}
	return AppendCompactionResult{ID: draft.ID}, nil
}

func (s *KVSessionStore) BuildSessionContext(ctx context.Context, sessionID string) (kerntypes.SessionContext, error) {
	sessCtx, ok, err := s.loadContext(ctx, sessionID)
	if err != nil {
		return kerntypes.SessionContext{}, err
	}
	if !ok {
		return kerntypes.SessionContext{}, fmt.Errorf("store: session %q not found", sessionID)
	}
	return sessCtx, nil
}

func (s *KVSessionStore) AppendTraceChunk(ctx context.Context, traceID string, chunkIndex int, records []kerntypes.StepTraceRecord) error {
	return s.kv.KVSet(ctx, traceKey(traceID, chunkIndex), records)
}

func (s *KVSessionStore) ReadTraceChunk(ctx context.Context, traceID string, chunkIndex int) ([]kerntypes.StepTraceRecord, error) {
	raw, err := s.kv.KVGet(ctx, traceKey(traceID, chunkIndex))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var records []kerntypes.StepTraceRecord
	if err := json.Unmarshal(encoded, &records); err != nil {
		return nil, err
	}
	return records, nil
}

var _ KernelSessionStore = (*KVSessionStore)(nil)
