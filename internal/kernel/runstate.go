package kernel

import (
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// RunStateManager owns every session's RunState and prompt queue. It is the
// kernel's only piece of shared mutable session state that isn't a
// registry: a per-session map guarded by a single mutex, holding the
// explicit run-state machine and its priority prompt queue.
type RunStateManager struct {
	mu     sync.Mutex
	states map[string]*kerntypes.RunState
}

// NewRunStateManager returns an empty manager.
func NewRunStateManager() *RunStateManager {
	return &RunStateManager{states: make(map[string]*kerntypes.RunState)}
}

// CreateSession installs a fresh RunState for sessionID if one doesn't
// already exist, and returns the (possibly pre-existing) state.
func (m *RunStateManager) CreateSession(sessionID string, maxRetryAttempts int, dequeueMode kerntypes.DequeueMode) *kerntypes.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.states[sessionID]; ok {
		return rs
	}
	rs := kerntypes.NewRunState(sessionID, maxRetryAttempts, dequeueMode)
	m.states[sessionID] = rs
	return rs
}

// Get returns the current RunState for sessionID.
func (m *RunStateManager) Get(sessionID string) (*kerntypes.RunState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.states[sessionID]
	return rs, ok
}

// Pause sets paused=true. Idempotent.
func (m *RunStateManager) Pause(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.states[sessionID]; ok {
		rs.Paused = true
	}
}

// Resume clears paused.
func (m *RunStateManager) Resume(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.states[sessionID]; ok {
		rs.Paused = false
	}
}

// Stop sets stopped=true and clears both queues. running is left for the
// consumer's next tick to observe.
func (m *RunStateManager) Stop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.states[sessionID]
	if !ok {
		return
	}
	rs.Stopped = true
	rs.Queue.Steer = nil
	rs.Queue.FollowUp = nil
}

// Restart clears stopped and paused. Retry state and queues are untouched.
func (m *RunStateManager) Restart(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.states[sessionID]; ok {
		rs.Stopped = false
		rs.Paused = false
	}
}

// SetRunning sets running. Setting it false also forces compacting=false —
// compaction cannot outlive running.
func (m *RunStateManager) SetRunning(sessionID string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.states[sessionID]
	if !ok {
		return
	}
	rs.Running = running
	if !running {
		rs.Compacting = false
	}
}

// SetCompacting sets compacting directly. Callers are responsible for the
// running-implies-compacting-allowed invariant; SetRunning(false) is the
// only path that force-clears it.
func (m *RunStateManager) SetCompacting(sessionID string, compacting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.states[sessionID]; ok {
		rs.Compacting = compacting
	}
}

// dedupeSkillIDs preserves first-occurrence order while dropping repeats.
func dedupeSkillIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// EnqueueQueuedPrompt trims text and dedupes skillIDs; a no-op (returns
// false) when both end up empty. Appends to the queue named by behavior.
func (m *RunStateManager) EnqueueQueuedPrompt(sessionID string, behavior kerntypes.PromptBehavior, text string, skillIDs []string) (kerntypes.QueuedPrompt, bool) {
	trimmed := strings.TrimSpace(text)
	deduped := dedupeSkillIDs(skillIDs)
	if trimmed == "" && len(deduped) == 0 {
		return kerntypes.QueuedPrompt{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.states[sessionID]
	if !ok {
		return kerntypes.QueuedPrompt{}, false
	}

	qp := kerntypes.QueuedPrompt{
		ID:        kerntypes.RandomID(),
		Behavior:  behavior,
		Text:      trimmed,
		SkillIDs:  deduped,
		Timestamp: kerntypes.NowISO(),
	}
	switch behavior {
	case kerntypes.BehaviorSteer:
		rs.Queue.Steer = append(rs.Queue.Steer, qp)
	default:
		rs.Queue.FollowUp = append(rs.Queue.FollowUp, qp)
	}
	return qp.Clone(), true
}

// pullByID removes and returns the prompt with id from list, if present.
func pullByID(list []kerntypes.QueuedPrompt, id string) ([]kerntypes.QueuedPrompt, kerntypes.QueuedPrompt, bool) {
	for i, p := range list {
		if p.ID == id {
			out := append(list[:i:i], list[i+1:]...)
			return out, p, true
		}
	}
	return list, kerntypes.QueuedPrompt{}, false
}

// PromoteQueuedPrompt moves the prompt with id to targetBehavior's queue,
// refreshing its timestamp. Promoting to steer inserts at the front ("jump
// the line"); demoting to followUp appends at the tail. Looks in followUp
// first, then steer.
func (m *RunStateManager) PromoteQueuedPrompt(sessionID, id string, targetBehavior kerntypes.PromptBehavior) (kerntypes.QueuedPrompt, bool) {
	if targetBehavior == "" {
		targetBehavior = kerntypes.BehaviorSteer
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.states[sessionID]
	if !ok {
		return kerntypes.QueuedPrompt{}, false
	}

	var found kerntypes.QueuedPrompt
	var ok2 bool
	rs.Queue.FollowUp, found, ok2 = pullByID(rs.Queue.FollowUp, id)
	if !ok2 {
		rs.Queue.Steer, found, ok2 = pullByID(rs.Queue.Steer, id)
	}
	if !ok2 {
		return kerntypes.QueuedPrompt{}, false
	}

	found.Behavior = targetBehavior
	found.Timestamp = kerntypes.NowISO()

	switch targetBehavior {
	case kerntypes.BehaviorSteer:
		rs.Queue.Steer = append([]kerntypes.QueuedPrompt{found}, rs.Queue.Steer...)
	default:
		rs.Queue.FollowUp = append(rs.Queue.FollowUp, found)
	}
	return found.Clone(), true
}

// DequeueQueuedPrompts drains behavior's queue: mode=="" defaults to the
// session's configured dequeue mode. "all" drains everything; any other
// value (including "one-at-a-time") shifts a single prompt. Returns clones.
func (m *RunStateManager) DequeueQueuedPrompts(sessionID string, behavior kerntypes.PromptBehavior, mode kerntypes.DequeueMode) []kerntypes.QueuedPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.states[sessionID]
	if !ok {
		return nil
	}
	if mode == "" {
		mode = rs.Queue.DequeueMode
	}

	var queue *[]kerntypes.QueuedPrompt
	switch behavior {
	case kerntypes.BehaviorSteer:
		queue = &rs.Queue.Steer
	default:
		queue = &rs.Queue.FollowUp
	}

	if len(*queue) == 0 {
		return nil
	}

	var drained []kerntypes.QueuedPrompt
	if mode == kerntypes.DequeueAll {
		drained = *queue
		*queue = nil
	} else {
		drained = (*queue)[:1]
		*queue = (*queue)[1:]
	}

	out := make([]kerntypes.QueuedPrompt, len(drained))
	for i, p := range drained {
		out[i] = p.Clone()
	}
	return out
}
