package kerntypes

// BrainEventType enumerates every event the kernel emits. Named "Brain"
// events because the orchestrator is colloquially "the brain" driving the
// agent loop.
type BrainEventType string

const (
	EventInputUser          BrainEventType = "input.user"
	EventInputRegenerate     BrainEventType = "input.regenerate"
	EventInputSharedTabs     BrainEventType = "input.shared_tabs"
	EventLLMSkipped          BrainEventType = "llm.skipped"
	EventLLMRequest          BrainEventType = "llm.request"
	EventLLMStreamStart      BrainEventType = "llm.stream.start"
	EventLLMStreamDelta      BrainEventType = "llm.stream.delta"
	EventLLMStreamEnd        BrainEventType = "llm.stream.end"
	EventLLMResponseRaw      BrainEventType = "llm.response.raw"
	EventLLMResponseParsed   BrainEventType = "llm.response.parsed"
	EventLoopStart           BrainEventType = "loop_start"
	EventLoopDone            BrainEventType = "loop_done"
	EventLoopError           BrainEventType = "loop_error"
	EventLoopRestart         BrainEventType = "loop_restart"
	EventLoopInternalError   BrainEventType = "loop_internal_error"
	EventLoopSkipStopped     BrainEventType = "loop_skip_stopped"
	EventLoopEnqueueSkipped  BrainEventType = "loop_enqueue_skipped"
	EventStepPlanned         BrainEventType = "step_planned"
	EventStepExecute         BrainEventType = "step_execute"
	EventStepExecuteResult   BrainEventType = "step_execute_result"
	EventStepFinished        BrainEventType = "step_finished"
	EventAutoRetryStart      BrainEventType = "auto_retry_start"
	EventAutoRetryEnd        BrainEventType = "auto_retry_end"
	EventAutoCompactionStart BrainEventType = "auto_compaction_start"
	EventAutoCompactionEnd   BrainEventType = "auto_compaction_end"
	EventSessionCompact      BrainEventType = "session_compact"
	EventSessionTitleManualRefresh  BrainEventType = "session_title_manual_refresh"
	EventSessionTitleAutoUpdated   BrainEventType = "session_title_auto_updated"
	EventSessionTitleAutoUpdateFailed BrainEventType = "session_title_auto_update_failed"

	// EventLoopDetected fires when the tool-call loop guard reports a
	// critical streak.
	EventLoopDetected BrainEventType = "loop_detected"
)

// BrainEvent is one occurrence published on the event bus, scoped to a
// session. Payload is a loosely-typed map (mirroring the hook runner's
// Value type) rather than a Go interface hierarchy — event consumers are
// typically generic (the trace serialiser, a UI bridge) and want the same
// JSON-shaped payload the hooks see, not a type switch over dozens of
// concrete event structs.
type BrainEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Type      BrainEventType `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewBrainEvent builds an event with a fresh id and current timestamp.
func NewBrainEvent(sessionID string, typ BrainEventType, payload map[string]any) BrainEvent {
	return BrainEvent{
		ID:        RandomID(),
		SessionID: sessionID,
		Type:      typ,
		Timestamp: NowISO(),
		Payload:   payload,
	}
}

// StepTraceRecord is the unit of the per-session trace: one emitted event,
// captured for replay.
type StepTraceRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Type      BrainEventType `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// StepTraceRecordFromEvent converts a published event into its trace record form.
func StepTraceRecordFromEvent(evt BrainEvent) StepTraceRecord {
	return StepTraceRecord{
		ID:        evt.ID,
		SessionID: evt.SessionID,
		Type:      evt.Type,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	}
}
