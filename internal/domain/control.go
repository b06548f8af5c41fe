package domain

import (
	"fmt"
	"sync"
	"time"
)

// TaskState is the lifecycle state of a ControlTask
type TaskState int

const (
	TaskAwaitingVerification TaskState = iota
	TaskRunningManualPhase
	// TaskFinished is terminal; the scheduler drops finished tasks
	TaskFinished
)

func (s TaskState) String() string {
	switch s {
	case TaskAwaitingVerification:
		return "AWAITING_VERIFICATION"
	case TaskRunningManualPhase:
		return "RUNNING_MANUAL_PHASE"
	case TaskFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Control result statuses reported to the waiting caller
const (
	StatusVerifiedAndRunning = "VERIFIED_AND_RUNNING"
	StatusFailedVerification = "FAILED_VERIFICATION"
)

// ControlResult is delivered once to the caller that created a task
type ControlResult struct {
	ControllerID string `json:"tlsID"`
	Status       string `json:"status"`
	Detail       string `json:"detail"`
	Expected     string `json:"expected,omitempty"`
	Actual       string `json:"actual,omitempty"`
}

// Verified reports whether the commanded state took effect
func (r ControlResult) Verified() bool {
	return r.Status == StatusVerifiedAndRunning
}

// ControlTask tracks one in-flight signal-change request for a controller
type ControlTask struct {
	ControllerID string
	State        TaskState
	DesiredState string
	Duration     int
	CompletesAt  float64
	WebhookURL   string
	CreatedAt    time.Time

	done *completion
}

// completion receives exactly one result; buffered so the loop never blocks
type completion struct {
	once sync.Once
	ch   chan ControlResult
}

// NewControlTask creates a task awaiting verification with its completion channel
func NewControlTask(controllerID, desiredState string, duration int) *ControlTask {
	return &ControlTask{
		ControllerID: controllerID,
		State:        TaskAwaitingVerification,
		DesiredState: desiredState,
		Duration:     duration,
		CreatedAt:    time.Now(),
		done:         &completion{ch: make(chan ControlResult, 1)},
	}
}

// Done is the receive side of the task's completion channel
func (t *ControlTask) Done() <-chan ControlResult {
	if t.done == nil {
		return nil
	}
	return t.done.ch
}

// Complete sends the result once; later calls are ignored
func (t *ControlTask) Complete(result ControlResult) {
	if t.done == nil {
		return
	}
	t.done.once.Do(func() {
		t.done.ch <- result
	})
}

// TaskActionKind is a side effect the loop performs on the stepper
type TaskActionKind int

const (
	// ActionHoldPhase sets the current phase duration to Seconds
	ActionHoldPhase TaskActionKind = iota
	// ActionRestoreProgram switches the controller back to its default program
	ActionRestoreProgram
)

// TaskAction is one stepper command produced by a transition
type TaskAction struct {
	Kind    TaskActionKind
	Seconds float64
}

// Transition is the outcome of advancing a task by one loop iteration
type Transition struct {
	Next    ControlTask
	Actions []TaskAction
	// Result is set when the waiting caller must be notified
	Result *ControlResult
}

// Finished reports whether the task should be destroyed
func (tr Transition) Finished() bool {
	return tr.Next.State == TaskFinished
}

// Advance computes the next task state from the simulation time and the
// controller state observed this step. It performs no I/O.
func (t ControlTask) Advance(now float64, observed string) Transition {
	switch t.State {
	case TaskAwaitingVerification:
		next := t
		if observed == t.DesiredState {
			hold := float64(t.Duration - 1)
			next.State = TaskRunningManualPhase
			next.CompletesAt = now + hold
			return Transition{
				Next:    next,
				Actions: []TaskAction{{Kind: ActionHoldPhase, Seconds: hold}},
				Result: &ControlResult{
					ControllerID: t.ControllerID,
					Status:       StatusVerifiedAndRunning,
					Detail:       fmt.Sprintf("State for %s successfully set and verified.", t.ControllerID),
				},
			}
		}
		next.State = TaskFinished
		return Transition{
			Next: next,
			Result: &ControlResult{
				ControllerID: t.ControllerID,
				Status:       StatusFailedVerification,
				Detail:       fmt.Sprintf("Expected state '%s' but got '%s'", t.DesiredState, observed),
				Expected:     t.DesiredState,
				Actual:       observed,
			},
		}
	case TaskRunningManualPhase:
		if now >= t.CompletesAt {
			next := t
			next.State = TaskFinished
			return Transition{
				Next:    next,
				Actions: []TaskAction{{Kind: ActionRestoreProgram}},
			}
		}
		return Transition{Next: t}
	default:
		return Transition{Next: t}
	}
}

// StateDurationRequest asks for one link of a junction's controller to change
type StateDurationRequest struct {
	JunctionID string `json:"junctionId"`
	State      string `json:"state"`
	Duration   int    `json:"duration"`
	LightIndex int    `json:"lightIndex"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

// DurationRequest changes only the current phase duration of a junction's controller
type DurationRequest struct {
	JunctionID string `json:"junctionId"`
	Duration   int    `json:"duration"`
}

// VehicleStatus is a live read of one vehicle
type VehicleStatus struct {
	VehicleID string   `json:"vehicleID"`
	Speed     float64  `json:"speed"`
	Position  Position `json:"position"`
	Lane      string   `json:"lane"`
}
