package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// MemStore is an in-process KernelSessionStore + KVStore, for tests that
// need no real backing store (kernelctl smoke uses KVSessionStore instead).
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*kerntypes.SessionContext
	traces   map[string]map[int][]kerntypes.StepTraceRecord
	kv       map[string]any
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*kerntypes.SessionContext),
		traces:   make(map[string]map[int][]kerntypes.StepTraceRecord),
		kv:       make(map[string]any),
	}
}

func (m *MemStore) CreateSession(ctx context.Context, sessionID string) (CreateSessionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		m.sessions[sessionID] = &kerntypes.SessionContext{}
	}
	return CreateSessionResult{Header: SessionHeader{ID: sessionID}}, nil
}

func (m *MemStore) AppendMessage(ctx context.Context, sessionID string, role kerntypes.MessageRole, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("store: session %q not found", sessionID)
	}
	sess.Entries = append(sess.Entries, kerntypes.NewMessageEntry(role, text))
	return nil
}

func (m *MemStore) AppendCompaction(ctx context.Context, sessionID string, reason string, draft kerntypes.SessionEntry, meta map[string]any) (AppendCompactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return AppendCompactionResult{}, fmt.Errorf("store: session %q not found", sessionID)
	}
	sess.Entries = append(sess.Entries, draft)
	if draft.Compaction != nil {
		sess.PreviousSummary = draft.Compaction.Summary
	}
	return AppendCompactionResult{ID: draft.ID}, nil
}

func (m *MemStore) BuildSessionContext(ctx context.Context, sessionID string) (kerntypes.SessionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return kerntypes.SessionContext{}, fmt.Errorf("store: session %q not found", sessionID)
	}
	entries := append([]kerntypes.SessionEntry(nil), sess.Entries...)
	return kerntypes.SessionContext{Entries: entries, PreviousSummary: sess.PreviousSummary}, nil
}

func (m *MemStore) AppendTraceChunk(ctx context.Context, traceID string, chunkIndex int, records []kerntypes.StepTraceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traces[traceID]; !ok {
		m.traces[traceID] = make(map[int][]kerntypes.StepTraceRecord)
	}
	m.traces[traceID][chunkIndex] = append([]kerntypes.StepTraceRecord(nil), records...)
	return nil
}

func (m *MemStore) ReadTraceChunk(ctx context.Context, traceID string, chunkIndex int) ([]kerntypes.StepTraceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks, ok := m.traces[traceID]
	if !ok {
		return nil, nil
	}
	return append([]kerntypes.StepTraceRecord(nil), chunks[chunkIndex]...), nil
}

func (m *MemStore) KVGet(ctx context.Context, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kv[key], nil
}

func (m *MemStore) KVSet(ctx context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemStore) KVRemove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemStore) KVKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
