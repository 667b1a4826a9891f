package kernel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// Tracer is the per-session event trace: an in-memory ring (bounded, cap
// per config, default 240) backing the fast replay path, plus a chunked
// persistence tail (chunk size per config, default 80) that appends to
// the external store in emission order even under concurrent producers.
// Per-session writes are serialised through a buffered-channel FIFO
// token, the same async-tail idiom internal/skills.Registry uses for its
// own per-document writes. A failed flush is logged and does not poison
// the tail: the next flush for the session proceeds normally.
type Tracer struct {
	store        store.KernelSessionStore
	ringCap      int
	chunkSize    int
	replayChunks int
	log          *slog.Logger

	mu      sync.Mutex
	rings   map[string][]kerntypes.StepTraceRecord
	pending map[string][]kerntypes.StepTraceRecord
	nextIdx map[string]int
	tails   map[string]chan struct{}
}

// NewTracer builds a Tracer. Any non-positive size falls back to a
// documented default.
func NewTracer(st store.KernelSessionStore, ringCap, chunkSize, replayChunks int, log *slog.Logger) *Tracer {
	if ringCap <= 0 {
		ringCap = 240
	}
	if chunkSize <= 0 {
		chunkSize = 80
	}
	if replayChunks <= 0 {
		replayChunks = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracer{
		store:        st,
		ringCap:      ringCap,
		chunkSize:    chunkSize,
		replayChunks: replayChunks,
		log:          log,
		rings:        make(map[string][]kerntypes.StepTraceRecord),
		pending:      make(map[string][]kerntypes.StepTraceRecord),
		nextIdx:      make(map[string]int),
		tails:        make(map[string]chan struct{}),
	}
}

func (t *Tracer) tailFor(sessionID string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.tails[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		t.tails[sessionID] = ch
	}
	return ch
}

func (t *Tracer) acquire(ctx context.Context, sessionID string) (func(), error) {
	ch := t.tailFor(sessionID)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Record appends evt's trace form to sessionID's ring and pending buffer,
// flushing a full chunk to the store whenever pending reaches chunkSize.
func (t *Tracer) Record(ctx context.Context, evt kerntypes.BrainEvent) {
	rec := kerntypes.StepTraceRecordFromEvent(evt)

	t.mu.Lock()
	ring := append(t.rings[evt.SessionID], rec)
	if len(ring) > t.ringCap {
		ring = ring[len(ring)-t.ringCap:]
	}
	t.rings[evt.SessionID] = ring
	t.pending[evt.SessionID] = append(t.pending[evt.SessionID], rec)
	full := len(t.pending[evt.SessionID]) >= t.chunkSize
	t.mu.Unlock()

	if full {
		t.flush(ctx, evt.SessionID)
	}
}

// flush persists one full chunk's worth of pending records (if any),
// serialised through the session's tail so on-disk order matches emission
// order. Failures are logged, not returned — the tail is never poisoned
// by a failed write.
func (t *Tracer) flush(ctx context.Context, sessionID string) {
	release, err := t.acquire(ctx, sessionID)
	if err != nil {
		return
	}
	defer release()

	t.mu.Lock()
	pending := t.pending[sessionID]
	if len(pending) == 0 {
		t.mu.Unlock()
		return
	}
	take := t.chunkSize
	if take > len(pending) {
		take = len(pending)
	}
	batch := append([]kerntypes.StepTraceRecord(nil), pending[:take]...)
	t.pending[sessionID] = pending[take:]
	chunkIndex := t.nextIdx[sessionID]
	t.nextIdx[sessionID] = chunkIndex + 1
	t.mu.Unlock()

	traceID := store.TraceID(sessionID)
	if err := t.store.AppendTraceChunk(ctx, traceID, chunkIndex, batch); err != nil {
		t.log.Warn("trace chunk flush failed", "sessionId", sessionID, "chunkIndex", chunkIndex, "error", err)
	}
}

// Flush forces any partial pending chunk for sessionID to the store —
// used at shutdown or by tests that want a deterministic on-disk state
// without waiting for a full chunk to accumulate.
func (t *Tracer) Flush(ctx context.Context, sessionID string) {
	release, err := t.acquire(ctx, sessionID)
	if err != nil {
		return
	}
	defer release()

	t.mu.Lock()
	pending := t.pending[sessionID]
	t.pending[sessionID] = nil
	chunkIndex := t.nextIdx[sessionID]
	if len(pending) > 0 {
		t.nextIdx[sessionID] = chunkIndex + 1
	}
	t.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	traceID := store.TraceID(sessionID)
	if err := t.store.AppendTraceChunk(ctx, traceID, chunkIndex, pending); err != nil {
		t.log.Warn("trace chunk flush failed", "sessionId", sessionID, "chunkIndex", chunkIndex, "error", err)
	}
}

// GetStepStream serves sessionID's trace from the in-memory ring when
// present; otherwise replays up to replayChunks chunks from the store.
func (t *Tracer) GetStepStream(ctx context.Context, sessionID string) ([]kerntypes.StepTraceRecord, error) {
	t.mu.Lock()
	ring := t.rings[sessionID]
	t.mu.Unlock()
	if len(ring) > 0 {
		return append([]kerntypes.StepTraceRecord(nil), ring...), nil
	}

	traceID := store.TraceID(sessionID)
	var out []kerntypes.StepTraceRecord
	for i := 0; i < t.replayChunks; i++ {
		chunk, err := t.store.ReadTraceChunk(ctx, traceID, i)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			break
		}
		out = append(out, chunk...)
	}
	return out, nil
}
