package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/hooks"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

type stubConfig struct {
	thresholdTokens int
	keepTail        int
	maxSummaryChars int
	retryMax        int
	retryBase       int
	retryCap        int
}

func (c stubConfig) CompactionThresholdTokens() int   { return c.thresholdTokens }
func (c stubConfig) CompactionKeepTail() int           { return c.keepTail }
func (c stubConfig) SplitTurnOrDefault() bool          { return true }
func (c stubConfig) CompactionMaxSummaryChars() int    { return c.maxSummaryChars }
func (c stubConfig) RetryMaxAttempts() int              { return c.retryMax }
func (c stubConfig) RetryBaseDelayMs() int               { return c.retryBase }
func (c stubConfig) RetryCapDelayMs() int                { return c.retryCap }
func (c stubConfig) TraceRingCapacity() int              { return 240 }
func (c stubConfig) TraceChunkSize() int                 { return 80 }
func (c stubConfig) TraceReplayChunks() int              { return 64 }
func (c stubConfig) QueueDequeueMode() string            { return "one-at-a-time" }

func defaultStubConfig() stubConfig {
	return stubConfig{thresholdTokens: 1800, keepTail: 30, maxSummaryChars: 1800, retryMax: 2, retryBase: 500, retryCap: 5000}
}

// fakeModeProvider is a minimal StepToolProvider bound to a single mode.
type fakeModeProvider struct {
	id       string
	mode     kerntypes.Mode
	priority int
	invoke   func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error)
}

func (p *fakeModeProvider) ID() string       { return p.id }
func (p *fakeModeProvider) Mode() kerntypes.Mode { return p.mode }
func (p *fakeModeProvider) Priority() int    { return p.priority }
func (p *fakeModeProvider) CanHandle(ctx context.Context, input kerntypes.ExecuteStepInput) bool {
	return true
}
func (p *fakeModeProvider) Invoke(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
	return p.invoke(ctx, input)
}

type fakeVerifyAdapter struct {
	verified bool
	reason   string
	err      error
}

func (v fakeVerifyAdapter) Verify(ctx context.Context, input kerntypes.ExecuteStepInput, data any) (bool, string, error) {
	return v.verified, v.reason, v.err
}

func newTestOrchestrator(t *testing.T, cfg Config, verify VerifyAdapter) (*Orchestrator, *store.MemStore, *tools.ProviderRegistry, *tools.CapabilityPolicyRegistry, *RunStateManager) {
	t.Helper()
	st := store.NewMemStore()
	b := bus.New()
	hk := hooks.NewRunner()
	providers := tools.NewProviderRegistry()
	policies := tools.NewCapabilityPolicyRegistry()
	runstates := NewRunStateManager()
	tracer := NewTracer(st, 240, 80, 64, nil)
	loopGuard := NewLoopGuard(3, 6)
	inputGuard := NewInputGuard(InputGuardWarn)

	o := NewOrchestrator(b, hk, providers, policies, runstates, tracer, loopGuard, inputGuard, st, verify, cfg, nil)
	return o, st, providers, policies, runstates
}

func mkEntries(n int, text string) []kerntypes.SessionEntry {
	out := make([]kerntypes.SessionEntry, n)
	for i := range out {
		role := kerntypes.RoleUser
		if i%2 == 1 {
			role = kerntypes.RoleAssistant
		}
		out[i] = kerntypes.NewMessageEntry(role, text)
	}
	return out
}

// Scenario 1: threshold compaction in pre-send.
func TestScenario_ThresholdCompactionInPreSend(t *testing.T) {
	o, st, _, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	ctx := context.Background()

	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)

	// 20 entries of ~100 chars each ≈ 25 tokens each ≈ 500 tokens... pad to
	// exceed the 1800 threshold deterministically.
	longText := ""
	for i := 0; i < 120; i++ {
		longText += "word "
	}
	for _, e := range mkEntries(20, longText) {
		require.NoError(t, st.AppendMessage(ctx, "s1", e.Message.Role, e.Message.Text))
	}

	var summaryCalled bool
	o.Hooks.On("compaction.summary", "summarizer", 0, func(ctx context.Context, v map[string]any) (hooks.Action, error) {
		summaryCalled = true
		return hooks.Patch(map[string]any{"summary": "a summary of the dropped turns"}), nil
	})

	didCompact, err := o.PreSendCompactionCheck(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, didCompact)
	assert.True(t, summaryCalled)

	sessCtx, err := st.BuildSessionContext(ctx, "s1")
	require.NoError(t, err)
	kept := 0
	for _, e := range sessCtx.Entries {
		if e.Kind == kerntypes.EntryMessage {
			kept++
		}
	}
	assert.LessOrEqual(t, kept, 30)
}

// Scenario 2: retry beats compaction.
func TestScenario_RetryBeatsCompaction(t *testing.T) {
	o, st, _, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	ctx := context.Background()
	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)

	var compactionRan bool
	o.Hooks.On("compaction.before", "watch", 0, func(ctx context.Context, v map[string]any) (hooks.Action, error) {
		compactionRan = true
		return hooks.Continue(), nil
	})

	res, err := o.HandleAgentEnd(ctx, AgentEndInput{SessionID: "s1", Err: &AgentError{Status: 503}, Overflow: false})
	require.NoError(t, err)
	assert.Equal(t, "retry", res.Action)
	assert.Equal(t, 500, res.DelayMs)
	assert.Equal(t, "retryable_error", res.Reason)
	assert.False(t, compactionRan)

	rs, _ := runstates.Get("s1")
	assert.Equal(t, 1, rs.Retry.Attempt)
	assert.True(t, rs.Retry.Active)
}

// Scenario 3: overflow forces compaction over retry.
func TestScenario_OverflowForcesCompactionOverRetry(t *testing.T) {
	o, st, _, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	ctx := context.Background()
	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	require.NoError(t, st.AppendMessage(ctx, "s1", kerntypes.RoleUser, "hi"))

	o.Hooks.On("compaction.summary", "summarizer", 0, func(ctx context.Context, v map[string]any) (hooks.Action, error) {
		return hooks.Patch(map[string]any{"summary": "summary"}), nil
	})

	res, err := o.HandleAgentEnd(ctx, AgentEndInput{SessionID: "s1", Err: &AgentError{Status: 503}, Overflow: true})
	require.NoError(t, err)
	assert.Equal(t, "continue", res.Action)
	assert.Equal(t, "compaction_overflow", res.Reason)

	rs, _ := runstates.Get("s1")
	assert.Equal(t, 0, rs.Retry.Attempt, "overflow must never advance the retry counter")
}

// Scenario 4: script→cdp fallback only when unbound.
func TestScenario_ScriptFallbackOnlyWhenUnbound(t *testing.T) {
	o, st, providers, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	ctx := context.Background()
	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)

	providers.RegisterMode(kerntypes.ModeScript, &fakeModeProvider{
		id: "script-1", mode: kerntypes.ModeScript,
		invoke: func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
			return nil, errors.New("script failed")
		},
	})
	providers.RegisterMode(kerntypes.ModeCDP, &fakeModeProvider{
		id: "cdp-1", mode: kerntypes.ModeCDP,
		invoke: func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
			return "ok via cdp", nil
		},
	})

	res, err := o.ExecuteStep(ctx, kerntypes.ExecuteStepInput{SessionID: "s1", Mode: kerntypes.ModeScript, Action: "click"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, kerntypes.ModeCDP, res.ModeUsed)
	assert.Equal(t, kerntypes.ModeScript, res.FallbackFrom)

	providers.RegisterCapability("browser.action", &fakeModeProvider{
		id: "script-capbound", mode: kerntypes.ModeScript,
		invoke: func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
			return nil, errors.New("bound script failed")
		},
	})
	res2, err := o.ExecuteStep(ctx, kerntypes.ExecuteStepInput{SessionID: "s1", Mode: kerntypes.ModeScript, Capability: "browser.action", Action: "click"})
	require.NoError(t, err)
	assert.False(t, res2.OK)
	assert.Contains(t, res2.Error, "bound script failed")
}

// Scenario 5: verify gate on critical action.
func TestScenario_VerifyGateOnCriticalAction(t *testing.T) {
	ctx := context.Background()

	// No verify adapter configured: adapter-missing.
	o, st, providers, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	providers.RegisterCapability("browser.action", &fakeModeProvider{
		id: "browser-1", mode: kerntypes.ModeCDP,
		invoke: func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) { return "done", nil },
	})
	res, err := o.ExecuteStep(ctx, kerntypes.ExecuteStepInput{SessionID: "s1", Capability: "browser.action", Action: "navigate"})
	require.NoError(t, err)
	assert.Equal(t, kerntypes.VerifyReasonAdapterMissing, res.VerifyReason)

	// With a verify adapter reporting verified: reason flows through.
	o2, st2, providers2, _, runstates2 := newTestOrchestrator(t, defaultStubConfig(), fakeVerifyAdapter{verified: true, reason: "ok"})
	st2.CreateSession(ctx, "s1")
	runstates2.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	providers2.RegisterCapability("browser.action", &fakeModeProvider{
		id: "browser-1", mode: kerntypes.ModeCDP,
		invoke: func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) { return "done", nil },
	})
	res2, err := o2.ExecuteStep(ctx, kerntypes.ExecuteStepInput{SessionID: "s1", Capability: "browser.action", Action: "navigate"})
	require.NoError(t, err)
	assert.True(t, res2.Verified)
	assert.Equal(t, kerntypes.VerifyReason("ok"), res2.VerifyReason)

	// Non-critical action with an explicit on_critical policy: policy-off.
	res3, err := o2.ExecuteStep(ctx, kerntypes.ExecuteStepInput{
		SessionID: "s1", Capability: "browser.action", Action: "read_something", VerifyPolicy: kerntypes.VerifyOnCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, kerntypes.VerifyReasonPolicyOff, res3.VerifyReason)
}

// Scenario 6: promotion to steer jumps the line.
func TestScenario_PromotionToSteerJumpsTheLine(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	a, _ := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "A", nil)
	b, _ := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "B", nil)
	x, _ := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorSteer, "X", nil)

	promoted, ok := m.PromoteQueuedPrompt("s1", b.ID, kerntypes.BehaviorSteer)
	require.True(t, ok)
	assert.NotEqual(t, b.Timestamp, promoted.Timestamp)

	rs, _ := m.Get("s1")
	require.Equal(t, []string{b.ID, x.ID}, []string{rs.Queue.Steer[0].ID, rs.Queue.Steer[1].ID})
	require.Equal(t, []string{a.ID}, []string{rs.Queue.FollowUp[0].ID})
}

func TestHandleAgentEnd_StoppedShortCircuits(t *testing.T) {
	o, st, _, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	ctx := context.Background()
	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	runstates.Stop("s1")

	res, err := o.HandleAgentEnd(ctx, AgentEndInput{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Action)
	assert.Equal(t, "stopped", res.Reason)
}

func TestExecuteStep_BeforeExecuteBlockShortCircuits(t *testing.T) {
	o, st, providers, _, runstates := newTestOrchestrator(t, defaultStubConfig(), nil)
	ctx := context.Background()
	st.CreateSession(ctx, "s1")
	runstates.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	providers.RegisterMode(kerntypes.ModeScript, &fakeModeProvider{id: "s", mode: kerntypes.ModeScript, invoke: func(ctx context.Context, input kerntypes.ExecuteStepInput) (any, error) {
		return nil, nil
	}})

	o.Hooks.On("step.before_execute", "blocker", 0, func(ctx context.Context, v map[string]any) (hooks.Action, error) {
		return hooks.Block("not allowed"), nil
	})

	res, err := o.ExecuteStep(ctx, kerntypes.ExecuteStepInput{SessionID: "s1", Mode: kerntypes.ModeScript, Action: "run"})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "not allowed")
}
