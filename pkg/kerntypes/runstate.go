package kerntypes

// RetryState tracks the in-flight auto-retry attempt counter for a session.
type RetryState struct {
	Active      bool `json:"active"`
	Attempt     int  `json:"attempt"`
	MaxAttempts int  `json:"maxAttempts"`
	DelayMs     int  `json:"delayMs"`
}

// QueueState holds the two priority lanes of pending prompts for a session.
type QueueState struct {
	DequeueMode DequeueMode    `json:"dequeueMode"`
	Steer       []QueuedPrompt `json:"steer"`
	FollowUp    []QueuedPrompt `json:"followUp"`
}

// RunState is the per-session control-plane state the orchestrator gates
// execution on. Invariants (enforced by internal/kernel, never by the
// zero value alone):
//
//	running    ⇒ ¬stopped
//	compacting ⇒ running
//	retry.attempt ≤ retry.maxAttempts
//	stop clears both queues
type RunState struct {
	SessionID  string     `json:"sessionId"`
	Running    bool       `json:"running"`
	Compacting bool       `json:"compacting"`
	Paused     bool       `json:"paused"`
	Stopped    bool       `json:"stopped"`
	Retry      RetryState `json:"retry"`
	Queue      QueueState `json:"queue"`
}

// NewRunState builds a fresh RunState for a session with the given retry
// budget and dequeue mode, queues empty.
func NewRunState(sessionID string, maxRetryAttempts int, dequeueMode DequeueMode) *RunState {
	if dequeueMode == "" {
		dequeueMode = DequeueOneAtATime
	}
	return &RunState{
		SessionID: sessionID,
		Retry:     RetryState{MaxAttempts: maxRetryAttempts},
		Queue:     QueueState{DequeueMode: dequeueMode},
	}
}
