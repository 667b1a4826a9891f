package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/goclaw/pkg/kerntypes"
)

func TestRunStateManager_CreateSessionIsIdempotent(t *testing.T) {
	m := NewRunStateManager()
	a := m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	b := m.CreateSession("s1", 99, kerntypes.DequeueAll)
	assert.Same(t, a, b)
	assert.Equal(t, 2, a.Retry.MaxAttempts)
}

func TestRunStateManager_StopClearsQueues(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorSteer, "hi", nil)
	m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "later", nil)

	m.Stop("s1")
	rs, _ := m.Get("s1")
	assert.True(t, rs.Stopped)
	assert.Empty(t, rs.Queue.Steer)
	assert.Empty(t, rs.Queue.FollowUp)
}

func TestRunStateManager_RestartClearsStoppedAndPausedOnly(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	m.Pause("s1")
	m.Stop("s1")
	rs, _ := m.Get("s1")
	rs.Retry.Attempt = 1

	m.Restart("s1")
	rs, _ = m.Get("s1")
	assert.False(t, rs.Stopped)
	assert.False(t, rs.Paused)
	assert.Equal(t, 1, rs.Retry.Attempt, "restart must not touch retry state")
}

func TestRunStateManager_SetRunningFalseForcesCompactingFalse(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	m.SetRunning("s1", true)
	m.SetCompacting("s1", true)

	m.SetRunning("s1", false)
	rs, _ := m.Get("s1")
	assert.False(t, rs.Running)
	assert.False(t, rs.Compacting)
}

func TestRunStateManager_EnqueueQueuedPrompt_NoopWhenEmpty(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	_, ok := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorSteer, "   ", nil)
	assert.False(t, ok)
}

func TestRunStateManager_EnqueueQueuedPrompt_DedupesSkillIDs(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	qp, ok := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "", []string{"a", "b", "a", "b", "c"})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, qp.SkillIDs)
}

func TestRunStateManager_PromoteQueuedPrompt_JumpsTheLine(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	a, _ := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "A", nil)
	b, _ := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "B", nil)
	x, _ := m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorSteer, "X", nil)

	promoted, ok := m.PromoteQueuedPrompt("s1", b.ID, kerntypes.BehaviorSteer)
	require.True(t, ok)
	assert.Equal(t, b.ID, promoted.ID)
	assert.NotEqual(t, b.Timestamp, promoted.Timestamp)

	rs, _ := m.Get("s1")
	require.Len(t, rs.Queue.Steer, 2)
	assert.Equal(t, b.ID, rs.Queue.Steer[0].ID)
	assert.Equal(t, x.ID, rs.Queue.Steer[1].ID)
	require.Len(t, rs.Queue.FollowUp, 1)
	assert.Equal(t, a.ID, rs.Queue.FollowUp[0].ID)
}

func TestRunStateManager_DequeueQueuedPrompts_OneAtATimeVsAll(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "A", nil)
	m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorFollowUp, "B", nil)

	one := m.DequeueQueuedPrompts("s1", kerntypes.BehaviorFollowUp, "")
	require.Len(t, one, 1)
	assert.Equal(t, "A", one[0].Text)

	all := m.DequeueQueuedPrompts("s1", kerntypes.BehaviorFollowUp, kerntypes.DequeueAll)
	require.Len(t, all, 1)
	assert.Equal(t, "B", all[0].Text)

	assert.Empty(t, m.DequeueQueuedPrompts("s1", kerntypes.BehaviorFollowUp, ""))
}

func TestRunStateManager_DequeueQueuedPrompts_ReturnsClones(t *testing.T) {
	m := NewRunStateManager()
	m.CreateSession("s1", 2, kerntypes.DequeueOneAtATime)
	m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorSteer, "", []string{"x"})
	m.EnqueueQueuedPrompt("s1", kerntypes.BehaviorSteer, "", []string{"y"})

	got := m.DequeueQueuedPrompts("s1", kerntypes.BehaviorSteer, "")
	require.Len(t, got, 1)
	got[0].SkillIDs[0] = "mutated"

	rs, _ := m.Get("s1")
	require.Len(t, rs.Queue.Steer, 1)
	assert.Equal(t, "y", rs.Queue.Steer[0].SkillIDs[0], "mutating a dequeued clone must not affect the still-queued prompt")
}
