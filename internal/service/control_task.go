package service

import (
	"fmt"

	"github.com/smartcity/trafficcore/internal/domain"
)

// ComputeLinkState derives the full controller state that results from
// setting one link. A green request forces every conflicting link to red;
// a red request only touches the link itself.
func ComputeLinkState(current string, conflicts domain.ConflictMap, index int, desired string) (string, error) {
	if index < 0 || index >= len(current) {
		return "", fmt.Errorf("%w: lightIndex %d, state has %d links", domain.ErrIndexOutOfBounds, index, len(current))
	}
	if conflicts == nil {
		return "", domain.ErrConflictMapMissing
	}

	state := []byte(current)
	switch desired {
	case "g", "G":
		state[index] = 'G'
		for _, c := range conflicts.Conflicts(index) {
			if c < len(state) {
				state[c] = 'r'
			}
		}
	case "r", "R":
		state[index] = 'r'
	default:
		return "", fmt.Errorf("%w: invalid state %q, expected 'g' or 'r'", domain.ErrValidation, desired)
	}
	return string(state), nil
}

// applyTaskActions performs the stepper side effects of a task transition
func applyTaskActions(stepper domain.Stepper, controllerID string, actions []domain.TaskAction) error {
	for _, a := range actions {
		switch a.Kind {
		case domain.ActionHoldPhase:
			if err := stepper.SetControllerPhaseDuration(controllerID, a.Seconds); err != nil {
				return err
			}
		case domain.ActionRestoreProgram:
			if err := stepper.SetControllerProgram(controllerID, domain.DefaultProgramID); err != nil {
				return err
			}
		}
	}
	return nil
}
