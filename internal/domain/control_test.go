package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlTaskAdvance(t *testing.T) {
	t.Run("verified state starts the manual phase", func(t *testing.T) {
		task := NewControlTask("GS_1", "rGrr", 10)
		tr := task.Advance(100, "rGrr")

		assert.Equal(t, TaskRunningManualPhase, tr.Next.State)
		assert.Equal(t, 109.0, tr.Next.CompletesAt)
		assert.Equal(t, []TaskAction{{Kind: ActionHoldPhase, Seconds: 9}}, tr.Actions)
		require.NotNil(t, tr.Result)
		assert.True(t, tr.Result.Verified())
		assert.False(t, tr.Finished())

		// the receiver is not modified
		assert.Equal(t, TaskAwaitingVerification, task.State)
	})

	t.Run("mismatch finishes with a failure", func(t *testing.T) {
		task := NewControlTask("GS_1", "rGrr", 10)
		tr := task.Advance(100, "GrGr")

		assert.True(t, tr.Finished())
		assert.Empty(t, tr.Actions)
		require.NotNil(t, tr.Result)
		assert.Equal(t, StatusFailedVerification, tr.Result.Status)
		assert.Equal(t, "Expected state 'rGrr' but got 'GrGr'", tr.Result.Detail)
		assert.Equal(t, "GrGr", tr.Result.Actual)
	})

	t.Run("running phase waits then restores the program", func(t *testing.T) {
		task := NewControlTask("GS_1", "rGrr", 10)
		running := task.Advance(100, "rGrr").Next

		tr := running.Advance(108, "")
		assert.False(t, tr.Finished())
		assert.Empty(t, tr.Actions)
		assert.Nil(t, tr.Result)

		tr = running.Advance(109, "")
		assert.True(t, tr.Finished())
		assert.Equal(t, []TaskAction{{Kind: ActionRestoreProgram}}, tr.Actions)
		assert.Nil(t, tr.Result)
	})
}

func TestControlTaskCompletesOnce(t *testing.T) {
	task := NewControlTask("GS_1", "G", 5)
	task.Complete(ControlResult{ControllerID: "GS_1", Status: StatusVerifiedAndRunning})
	task.Complete(ControlResult{ControllerID: "GS_1", Status: StatusFailedVerification})

	res := <-task.Done()
	assert.True(t, res.Verified())
	select {
	case <-task.Done():
		t.Fatal("second result delivered")
	default:
	}
}

func TestClassifyCongestion(t *testing.T) {
	assert.Equal(t, Congested, ClassifyCongestion(0.61))
	assert.Equal(t, NonCongested, ClassifyCongestion(0.60))
	assert.Equal(t, NonCongested, ClassifyCongestion(0))
}

func TestLaneEdge(t *testing.T) {
	assert.Equal(t, "E1", LaneEdge("E1_0"))
	assert.Equal(t, "-E1_2", LaneEdge("-E1_2_1"))
	assert.Equal(t, "main_street", LaneEdge("main_street"))
	assert.Equal(t, "E1", LaneEdge("E1"))
}
