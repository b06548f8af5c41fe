package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStepperFault means the connection to the simulation is unusable
	ErrStepperFault = errors.New("simulation stepper fault")
	// ErrValidation marks malformed or incomplete external requests
	ErrValidation = errors.New("invalid request")
	// ErrNotFound marks a controller, intersection or vehicle that does not exist
	ErrNotFound = errors.New("not found")
	// ErrVerificationFailed means a commanded signal state did not take effect
	ErrVerificationFailed = errors.New("verification failed")
	// ErrVerificationTimeout means the caller gave up waiting for verification
	ErrVerificationTimeout = errors.New("verification timed out")
	// ErrTaskInFlight rejects a control request while another one awaits verification
	ErrTaskInFlight = errors.New("control task already awaiting verification")
	// ErrConflictMapMissing means the controller's conflicts are unknown
	ErrConflictMapMissing = errors.New("conflict map not found")
	// ErrIndexOutOfBounds rejects a link index beyond the controller's state string
	ErrIndexOutOfBounds = errors.New("link index out of bounds")
	// ErrSnapshotUnavailable means the cache holds no current snapshot for the entity
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
)

// StepperFault wraps a simulation error so that errors.Is(err, ErrStepperFault) holds
func StepperFault(op string, err error) error {
	return fmt.Errorf("stepper: %s: %w: %v", op, ErrStepperFault, err)
}

// IsStepperFault reports whether err came from the simulation connection
func IsStepperFault(err error) bool {
	return errors.Is(err, ErrStepperFault)
}

// ColoringConflictError reports an intersection whose conflict graph cannot be two-colored
type ColoringConflictError struct {
	JunctionID string
	Stream     TrafficStream
	Neighbor   TrafficStream
}

func (e *ColoringConflictError) Error() string {
	return fmt.Sprintf("junction %s: streams %s and %s cannot be split into two groups",
		e.JunctionID, e.Stream, e.Neighbor)
}
