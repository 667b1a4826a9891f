package store

import (
	"context"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// SessionHeader is the minimal handle CreateSession returns.
type SessionHeader struct {
	ID string `json:"id"`
}

// CreateSessionResult wraps CreateSession's return value.
type CreateSessionResult struct {
	Header SessionHeader `json:"header"`
}

// AppendCompactionResult wraps AppendCompaction's return value.
type AppendCompactionResult struct {
	ID string `json:"id"`
}

// KernelSessionStore is the external session-store contract the
// orchestrator core consumes: an opaque, session-keyed transcript store
// with just the append/build-context surface the kernel needs —
// pagination, token accounting, and channel metadata are a caller's
// concern, not this contract's.
type KernelSessionStore interface {
	CreateSession(ctx context.Context, sessionID string) (CreateSessionResult, error)
	AppendMessage(ctx context.Context, sessionID string, role kerntypes.MessageRole, text string) error
	AppendCompaction(ctx context.Context, sessionID string, reason string, draft kerntypes.SessionEntry, meta map[string]any) (AppendCompactionResult, error)
	BuildSessionContext(ctx context.Context, sessionID string) (kerntypes.SessionContext, error)
	AppendTraceChunk(ctx context.Context, traceID string, chunkIndex int, records []kerntypes.StepTraceRecord) error
	ReadTraceChunk(ctx context.Context, traceID string, chunkIndex int) ([]kerntypes.StepTraceRecord, error)
}

// KVStore is the external durable key/value contract, consumed by the
// skill registry and the archive/reset routine.
type KVStore interface {
	KVGet(ctx context.Context, key string) (any, error)
	KVSet(ctx context.Context, key string, value any) error
	KVRemove(ctx context.Context, key string) error
	// KVKeysWithPrefix lists every key matching prefix — needed by the
	// reset routine's prefix-scoped deletes; not part of the minimal
	// kvGet/kvSet/kvRemove trio, but every concrete KV implementation the
	// kernel ships (kvstore.SQLiteStore, the in-memory fake) provides it.
	KVKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// TraceID builds the trace-id the external store keys trace chunks under.
func TraceID(sessionID string) string { return "session-" + sessionID }
