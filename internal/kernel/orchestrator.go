// Package kernel implements the orchestrator core: the step-execution
// pipeline, the retry-vs-compaction decision at agent end, and the glue
// that drives the compaction engine and trace serialiser from real
// session traffic. Orchestrator is a per-session-class execution engine
// holding registries, config, and an emit callback, driving an explicit
// state-machine-plus-hook-pipeline rather than a single linear chat loop.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/compaction"
	"github.com/nextlevelbuilder/goclaw/internal/hooks"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

// VerifyAdapter is the optional external post-step verification contract:
// given the resolved input and the provider's result data, reports
// whether the step's effect was confirmed.
type VerifyAdapter interface {
	Verify(ctx context.Context, input kerntypes.ExecuteStepInput, data any) (verified bool, reason string, err error)
}

// Config is the narrow slice of KernelConfig the orchestrator needs —
// declared as an interface so tests can supply a stub instead of a full
// internal/config.KernelConfig.
type Config interface {
	CompactionThresholdTokens() int
	CompactionKeepTail() int
	SplitTurnOrDefault() bool
	CompactionMaxSummaryChars() int
	RetryMaxAttempts() int
	RetryBaseDelayMs() int
	RetryCapDelayMs() int
	TraceRingCapacity() int
	TraceChunkSize() int
	TraceReplayChunks() int
	QueueDequeueMode() string
}

// Orchestrator wires every registry plus the run-state/trace/guard
// components into the executeStep / preSendCompactionCheck /
// handleAgentEnd / runCompaction pipeline.
type Orchestrator struct {
	Bus        *bus.Bus
	Hooks      *hooks.Runner
	Providers  *tools.ProviderRegistry
	Policies   *tools.CapabilityPolicyRegistry
	RunStates  *RunStateManager
	Tracer     *Tracer
	LoopGuard  *LoopGuard
	InputGuard *InputGuard
	Store      store.KernelSessionStore
	Verify     VerifyAdapter // nil = no external verification
	Config     Config
	Log        *slog.Logger

	compactionMu sync.Map // sessionID -> *sync.Mutex, one compaction in flight at a time
}

// NewOrchestrator wires the given collaborators into an Orchestrator.
// Verify may be nil.
func NewOrchestrator(
	b *bus.Bus,
	hk *hooks.Runner,
	providers *tools.ProviderRegistry,
	policies *tools.CapabilityPolicyRegistry,
	runstates *RunStateManager,
	tracer *Tracer,
	loopGuard *LoopGuard,
	inputGuard *InputGuard,
	st store.KernelSessionStore,
	verify VerifyAdapter,
	cfg Config,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		Bus: b, Hooks: hk, Providers: providers, Policies: policies,
		RunStates: runstates, Tracer: tracer, LoopGuard: loopGuard,
		InputGuard: inputGuard, Store: st, Verify: verify, Config: cfg, Log: log,
	}
}

// emit publishes evt on the bus and records it into the trace: every
// emitted event is appended to the trace.
func (o *Orchestrator) emit(ctx context.Context, sessionID string, typ kerntypes.BrainEventType, payload map[string]any) {
	evt := kerntypes.NewBrainEvent(sessionID, typ, payload)
	if o.Bus != nil {
		o.Bus.Publish(evt)
	}
	if o.Tracer != nil {
		o.Tracer.Record(ctx, evt)
	}
}

func (o *Orchestrator) compactionLock(sessionID string) *sync.Mutex {
	v, _ := o.compactionMu.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// --- 4.9.1 Step execution pipeline ---------------------------------------

var criticalActionSubstrings = []string{"navigate", "click", "type", "fill", "select", "write"}

func isCriticalAction(action string) bool {
	lower := strings.ToLower(action)
	for _, s := range criticalActionSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func shouldVerify(policy kerntypes.VerifyPolicy, action string) bool {
	switch policy {
	case kerntypes.VerifyAlways:
		return true
	case kerntypes.VerifyOnCritical:
		return isCriticalAction(action)
	default:
		return false
	}
}

func stepInputValue(input kerntypes.ExecuteStepInput) map[string]any {
	return map[string]any{
		"sessionId":  input.SessionID,
		"mode":       string(input.Mode),
		"capability": input.Capability,
		"action":     input.Action,
		"args":       input.Args,
	}
}

func blockedResult(reason, hookName string) kerntypes.ExecuteStepResult {
	return kerntypes.ExecuteStepResult{
		OK:           false,
		Error:        fmt.Sprintf("%s blocked: %s", hookName, reason),
		VerifyReason: kerntypes.VerifyReasonSkipped,
	}
}

// ExecuteStep runs the full step pipeline: hook phases, capability→mode
// resolution, fallback policy, and the verify gate.
func (o *Orchestrator) ExecuteStep(ctx context.Context, input kerntypes.ExecuteStepInput) (kerntypes.ExecuteStepResult, error) {
	o.emit(ctx, input.SessionID, kerntypes.EventStepPlanned, stepInputValue(input))

	before := o.Hooks.Run(ctx, "step.before_execute", stepInputValue(input))
	if before.Blocked {
		res := blockedResult(before.Reason, "step.before_execute")
		o.emit(ctx, input.SessionID, kerntypes.EventStepFinished, map[string]any{"ok": false})
		return res, nil
	}
	input = applyValuePatch(input, before.Value)

	resolvedMode := o.Providers.ResolveMode(input)
	if !isKnownMode(resolvedMode) {
		msg := "mode 必须是 script/cdp/bridge"
		if input.Capability != "" && resolvedMode == "" {
			msg = "未找到 capability provider"
		}
		o.Hooks.Run(ctx, "step.after_execute", map[string]any{"ok": false, "error": msg})
		o.emit(ctx, input.SessionID, kerntypes.EventStepFinished, map[string]any{"ok": false})
		return kerntypes.ExecuteStepResult{OK: false, Error: msg, VerifyReason: kerntypes.VerifyReasonSkipped}, nil
	}

	toolVal := map[string]any{"mode": string(resolvedMode), "capability": input.Capability, "input": stepInputValue(input)}
	toolBefore := o.Hooks.Run(ctx, "tool.before_call", toolVal)
	if toolBefore.Blocked {
		res := blockedResult(toolBefore.Reason, "tool.before_call")
		o.emit(ctx, input.SessionID, kerntypes.EventStepFinished, map[string]any{"ok": false})
		return res, nil
	}

	o.emit(ctx, input.SessionID, kerntypes.EventStepExecute, map[string]any{"mode": string(resolvedMode), "capability": input.Capability, "action": input.Action})

	invoked := input.WithMode(resolvedMode)
	invokeRes, invokeErr := o.Providers.Invoke(ctx, resolvedMode, invoked)
	fallbackFrom := kerntypes.Mode("")

	if invokeErr != nil && o.allowsScriptFallback(resolvedMode, input.Capability) {
		fallbackRes, fallbackErr := o.Providers.Invoke(ctx, kerntypes.ModeCDP, input.WithMode(kerntypes.ModeCDP))
		if fallbackErr == nil {
			invokeRes, invokeErr = fallbackRes, nil
			fallbackFrom = resolvedMode
			resolvedMode = kerntypes.ModeCDP
		}
	}

	if key := o.loopGuardKey(resolvedMode, input); o.LoopGuard != nil && key != "" {
		if level := o.LoopGuard.Record(input.SessionID, key); level == LoopLevelCritical {
			o.emit(ctx, input.SessionID, kerntypes.EventLoopDetected, map[string]any{"key": key})
		}
	}

	if invokeErr != nil {
		result := errToStepResult(invokeErr)
		o.emit(ctx, input.SessionID, kerntypes.EventStepExecuteResult, map[string]any{"ok": false, "error": result.Error})
		after := o.Hooks.Run(ctx, "step.after_execute", map[string]any{"ok": false, "error": result.Error})
		if after.Blocked {
			result.Error = fmt.Sprintf("step.after_execute blocked: %s", after.Reason)
		}
		o.emit(ctx, input.SessionID, kerntypes.EventStepFinished, map[string]any{"ok": false})
		return result, nil
	}

	afterResultHook := o.Hooks.Run(ctx, "tool.after_result", map[string]any{"mode": string(resolvedMode), "capability": input.Capability, "data": invokeRes.Data})
	if afterResultHook.Blocked {
		res := blockedResult(afterResultHook.Reason, "tool.after_result")
		o.emit(ctx, input.SessionID, kerntypes.EventStepFinished, map[string]any{"ok": false})
		return res, nil
	}

	result := kerntypes.ExecuteStepResult{
		OK:           true,
		ModeUsed:     resolvedMode,
		CapabilityUsed: invokeRes.CapabilityUsed,
		FallbackFrom: fallbackFrom,
		Data:         invokeRes.Data,
	}
	o.applyVerifyGate(ctx, &result, input)

	o.emit(ctx, input.SessionID, kerntypes.EventStepExecuteResult, map[string]any{"ok": true})

	finalVal := map[string]any{"ok": result.OK, "verified": result.Verified, "verifyReason": string(result.VerifyReason)}
	after := o.Hooks.Run(ctx, "step.after_execute", finalVal)
	if after.Blocked {
		result.OK = false
		result.Error = fmt.Sprintf("step.after_execute blocked: %s", after.Reason)
	}

	o.emit(ctx, input.SessionID, kerntypes.EventStepFinished, map[string]any{"ok": result.OK})
	return result, nil
}

func isKnownMode(m kerntypes.Mode) bool {
	return m == kerntypes.ModeScript || m == kerntypes.ModeCDP || m == kerntypes.ModeBridge
}

// applyValuePatch folds a hook-patched value map back onto input, for the
// fields plugins are permitted to rewrite (mode, capability, args).
func applyValuePatch(input kerntypes.ExecuteStepInput, value map[string]any) kerntypes.ExecuteStepInput {
	if v, ok := value["mode"].(string); ok && v != "" {
		input.Mode = kerntypes.Mode(v)
	}
	if v, ok := value["capability"].(string); ok {
		input.Capability = v
	}
	if v, ok := value["args"].(map[string]any); ok {
		input.Args = v
	}
	return input
}

// scriptFallbackPolicyKey is a reserved pseudo-capability an operator (or
// a plugin) can set an override under to suppress the unbound script→cdp
// retry globally: setting AllowScriptFallback=false here suppresses the
// retry even when no capability is bound. No capability is bound in this
// path, so there is no per-capability policy to consult — this is the
// one capability-policy lookup not keyed by an actual capability name.
const scriptFallbackPolicyKey = "mode.script"

// allowsScriptFallback implements the fallback rule: a script→cdp retry
// is permitted only when the failing mode was script and no capability
// was explicitly bound. Absent an explicit override it defaults to
// permitted — capability-bound steps never reach this path at all.
func (o *Orchestrator) allowsScriptFallback(resolvedMode kerntypes.Mode, capability string) bool {
	if resolvedMode != kerntypes.ModeScript || capability != "" {
		return false
	}
	if o.Policies == nil {
		return true
	}
	entry := o.Policies.Get(scriptFallbackPolicyKey)
	if entry.Source == tools.PolicySourceNone || entry.Policy.AllowScriptFallback == nil {
		return true
	}
	return *entry.Policy.AllowScriptFallback
}

func (o *Orchestrator) loopGuardKey(mode kerntypes.Mode, input kerntypes.ExecuteStepInput) string {
	scope := input.Capability
	if scope == "" {
		scope = string(mode)
	}
	if scope == "" {
		return ""
	}
	return scope + ":" + input.Action + ":" + HashArgs(input.Args)
}

func errToStepResult(err error) kerntypes.ExecuteStepResult {
	if se, ok := err.(*kerntypes.StepError); ok {
		return kerntypes.ExecuteStepResult{
			OK: false, Error: se.Message, ErrorCode: se.Code,
			ErrorDetails: se.Details, Retryable: se.Retryable,
			VerifyReason: kerntypes.VerifyReasonSkipped,
		}
	}
	return kerntypes.ExecuteStepResult{OK: false, Error: err.Error(), VerifyReason: kerntypes.VerifyReasonSkipped}
}

// applyVerifyGate runs the post-step verification pass and fills
// result.Verified / VerifyReason.
func (o *Orchestrator) applyVerifyGate(ctx context.Context, result *kerntypes.ExecuteStepResult, input kerntypes.ExecuteStepInput) {
	policy := input.VerifyPolicy
	if policy == "" && o.Policies != nil && input.Capability != "" {
		resolved := o.Policies.Resolve(input.Capability)
		if resolved.DefaultVerifyPolicy != nil {
			policy = *resolved.DefaultVerifyPolicy
		}
	}
	if policy == "" {
		policy = kerntypes.VerifyOff
	}

	if !shouldVerify(policy, input.Action) {
		result.VerifyReason = kerntypes.VerifyReasonPolicyOff
		return
	}
	if o.Verify == nil {
		result.VerifyReason = kerntypes.VerifyReasonAdapterMissing
		return
	}

	verified, reason, err := o.Verify.Verify(ctx, input.WithMode(result.ModeUsed), result.Data)
	if err != nil || !verified {
		result.Verified = false
		result.VerifyReason = kerntypes.VerifyReasonFailed
		return
	}
	result.Verified = true
	if reason != "" {
		result.VerifyReason = kerntypes.VerifyReason(reason)
	} else {
		result.VerifyReason = kerntypes.VerifyReasonVerified
	}
}

// --- 4.9.4 handleAgentEnd -------------------------------------------------

// AgentError is the typed failure handed to HandleAgentEnd, carrying the
// classification fields the retryability rule inspects.
type AgentError struct {
	Status  int
	Code    string
	Message string
}

// AgentEndInput bundles HandleAgentEnd's arguments.
type AgentEndInput struct {
	SessionID string
	Err       *AgentError
	Overflow  bool
}

// AgentEndResult is HandleAgentEnd's decision.
type AgentEndResult struct {
	Action  string // "retry" | "continue" | "done"
	DelayMs int
	Reason  string
}

var retryableCodes = map[string]bool{
	"ETIMEDOUT": true, "ECONNRESET": true, "EAI_AGAIN": true, "ENETUNREACH": true,
}

var retryableMessagePatterns = []string{"timeout", "temporar", "unavailable", "rate limit", "network"}

func isRetryable(err *AgentError, overflow bool) bool {
	if err == nil || overflow {
		return false
	}
	if err.Status >= 500 || err.Status == 408 || err.Status == 429 {
		return true
	}
	if retryableCodes[err.Code] {
		return true
	}
	lower := strings.ToLower(err.Message)
	for _, p := range retryableMessagePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func retryDelayMs(base, capMs, attempt int) int {
	if base <= 0 {
		base = 500
	}
	if capMs <= 0 {
		capMs = 5000
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= capMs {
			delay = capMs
			break
		}
	}
	if delay > capMs {
		delay = capMs
	}
	return delay
}

// HandleAgentEnd implements the fixed-order retry-vs-compaction decision.
func (o *Orchestrator) HandleAgentEnd(ctx context.Context, in AgentEndInput) (AgentEndResult, error) {
	before := o.Hooks.Run(ctx, "agent_end.before", map[string]any{"sessionId": in.SessionID, "overflow": in.Overflow})
	if before.Blocked {
		return AgentEndResult{Action: "done", Reason: "blocked: " + before.Reason}, nil
	}

	rs, ok := o.RunStates.Get(in.SessionID)
	if !ok {
		return AgentEndResult{}, fmt.Errorf("kernel: unknown session %q", in.SessionID)
	}
	if rs.Stopped {
		return AgentEndResult{Action: "done", Reason: "stopped"}, nil
	}

	retryable := isRetryable(in.Err, in.Overflow)

	if retryable && rs.Retry.Attempt < rs.Retry.MaxAttempts {
		rs.Retry.Attempt++
		rs.Retry.Active = true
		rs.Retry.DelayMs = retryDelayMs(o.Config.RetryBaseDelayMs(), o.Config.RetryCapDelayMs(), rs.Retry.Attempt)
		o.emit(ctx, in.SessionID, kerntypes.EventAutoRetryStart, map[string]any{"attempt": rs.Retry.Attempt, "delayMs": rs.Retry.DelayMs})
		result := AgentEndResult{Action: "retry", DelayMs: rs.Retry.DelayMs, Reason: "retryable_error"}
		o.Hooks.Run(ctx, "agent_end.after", map[string]any{"sessionId": in.SessionID, "result": result.Action})
		return result, nil
	}

	if retryable {
		// Budget exhausted: end the retry run unsuccessfully and fall
		// through to the compaction check.
		o.emit(ctx, in.SessionID, kerntypes.EventAutoRetryEnd, map[string]any{"success": false})
		rs.Retry.Active = false
		rs.Retry.DelayMs = 0
	} else if rs.Retry.Active {
		o.emit(ctx, in.SessionID, kerntypes.EventAutoRetryEnd, map[string]any{"success": true})
		rs.Retry = kerntypes.RetryState{MaxAttempts: rs.Retry.MaxAttempts}
	}

	sessCtx, err := o.Store.BuildSessionContext(ctx, in.SessionID)
	if err != nil {
		return AgentEndResult{}, fmt.Errorf("kernel: build session context: %w", err)
	}
	shouldRes := compaction.ShouldCompact(compaction.ShouldCompactInput{
		Overflow:        in.Overflow,
		Entries:         sessCtx.Entries,
		PreviousSummary: sessCtx.PreviousSummary,
		ThresholdTokens: o.Config.CompactionThresholdTokens(),
	})

	var result AgentEndResult
	if shouldRes.ShouldCompact {
		willRetry := shouldRes.Reason == compaction.ReasonOverflow
		if err := o.RunCompaction(ctx, in.SessionID, string(shouldRes.Reason), willRetry); err != nil {
			return AgentEndResult{}, err
		}
		result = AgentEndResult{Action: "continue", Reason: "compaction_" + string(shouldRes.Reason)}
	} else {
		reason := "completed"
		if in.Err != nil {
			reason = "error"
		}
		result = AgentEndResult{Action: "done", Reason: reason}
	}

	o.Hooks.Run(ctx, "agent_end.after", map[string]any{"sessionId": in.SessionID, "result": result.Action})
	return result, nil
}

// --- runCompaction ---------------------------------------------------------

// RunCompaction builds a compaction draft for sessionID, resolves its
// summary through the compaction.summary hook, and appends the resulting
// compaction entry to the session. willRetry is carried into the
// auto_compaction_start payload and the appended compaction's meta only
// (it does not change this function's own control flow; the retry itself
// is driven by HandleAgentEnd).
func (o *Orchestrator) RunCompaction(ctx context.Context, sessionID, reason string, willRetry bool) (err error) {
	lock := o.compactionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	o.emit(ctx, sessionID, kerntypes.EventAutoCompactionStart, map[string]any{"reason": reason, "willRetry": willRetry})
	o.RunStates.SetCompacting(sessionID, true)

	defer func() {
		if err != nil {
			o.emit(ctx, sessionID, kerntypes.EventAutoCompactionEnd, map[string]any{"success": false, "errorMessage": err.Error()})
			o.Hooks.Run(ctx, "compaction.error", map[string]any{"sessionId": sessionID, "error": err.Error()})
			o.RunStates.SetCompacting(sessionID, false)
		}
	}()

	sessCtx, e := o.Store.BuildSessionContext(ctx, sessionID)
	if e != nil {
		err = fmt.Errorf("kernel: build session context: %w", e)
		return err
	}

	o.Hooks.Run(ctx, "compaction.before", map[string]any{"sessionId": sessionID, "reason": reason})

	draft := compaction.PrepareCompaction(compaction.PrepareCompactionInput{
		Entries:         sessCtx.Entries,
		PreviousSummary: sessCtx.PreviousSummary,
		KeepTail:        o.Config.CompactionKeepTail(),
		SplitTurn:       o.Config.SplitTurnOrDefault(),
		MaxSummaryChars: o.Config.CompactionMaxSummaryChars(),
	})

	summaryVal := o.Hooks.Run(ctx, "compaction.summary", map[string]any{
		"sessionId": sessionID, "reason": reason, "summary": draft.Summary,
	})
	summary, _ := summaryVal.Value["summary"].(string)
	if summary == "" {
		summary = draft.Summary
	}
	if summary == "" {
		err = fmt.Errorf("kernel: compaction.summary produced an empty summary")
		return err
	}
	draft.Summary = summary

	entry := kerntypes.NewCompactionEntry(reason, draft.Summary, draft.FirstKeptEntryID, draft.TokensBefore, draft.TokensAfter)
	if _, e := o.Store.AppendCompaction(ctx, sessionID, reason, entry, map[string]any{"willRetry": willRetry}); e != nil {
		err = fmt.Errorf("kernel: append compaction: %w", e)
		return err
	}

	o.emit(ctx, sessionID, kerntypes.EventSessionCompact, map[string]any{"reason": reason, "firstKeptEntryId": draft.FirstKeptEntryID})
	o.emit(ctx, sessionID, kerntypes.EventAutoCompactionEnd, map[string]any{
		"success": true, "tokensBefore": draft.TokensBefore, "tokensAfter": draft.TokensAfter,
	})
	o.RunStates.SetCompacting(sessionID, false)
	o.Hooks.Run(ctx, "compaction.after", map[string]any{"sessionId": sessionID, "reason": reason})
	return nil
}

// PreSendCompactionCheck implements the pre-send half of the compaction
// data flow: if the session is over its configured threshold, it runs
// compaction with reason "threshold" and returns true.
func (o *Orchestrator) PreSendCompactionCheck(ctx context.Context, sessionID string) (bool, error) {
	o.Hooks.Run(ctx, "compaction.check.before", map[string]any{"sessionId": sessionID})

	sessCtx, err := o.Store.BuildSessionContext(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("kernel: build session context: %w", err)
	}
	shouldRes := compaction.ShouldCompact(compaction.ShouldCompactInput{
		Entries:         sessCtx.Entries,
		PreviousSummary: sessCtx.PreviousSummary,
		ThresholdTokens: o.Config.CompactionThresholdTokens(),
	})

	o.Hooks.Run(ctx, "compaction.check.after", map[string]any{"sessionId": sessionID, "shouldCompact": shouldRes.ShouldCompact})

	if !shouldRes.ShouldCompact {
		return false, nil
	}
	if err := o.RunCompaction(ctx, sessionID, string(shouldRes.Reason), false); err != nil {
		return false, err
	}
	return true, nil
}
