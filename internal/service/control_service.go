package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sugawarayuuta/sonnet"

	"github.com/smartcity/trafficcore/internal/domain"
)

// DefaultVerifyTimeout bounds how long a caller waits for a signal change to be verified
const DefaultVerifyTimeout = 40 * time.Second

// ControlService is the write API over the simulation. Every stepper
// interaction goes through the gate shared with the loop.
type ControlService struct {
	stepper   domain.Stepper
	gate      *Gate
	scheduler *TaskScheduler
	events    *EventManager
	topology  *Topology
	snapshots *SnapshotService
	repo      domain.EventLogRepository

	verifyTimeout time.Duration

	wgBg sync.WaitGroup // tracks background goroutines for graceful shutdown
}

// ControlDeps groups the collaborators of the control service
type ControlDeps struct {
	Stepper       domain.Stepper
	Gate          *Gate
	Scheduler     *TaskScheduler
	Events        *EventManager
	Topology      *Topology
	Snapshots     *SnapshotService
	Repo          domain.EventLogRepository
	VerifyTimeout time.Duration
}

// NewControlService creates a new control service
func NewControlService(deps ControlDeps) *ControlService {
	timeout := deps.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	return &ControlService{
		stepper:       deps.Stepper,
		gate:          deps.Gate,
		scheduler:     deps.Scheduler,
		events:        deps.Events,
		topology:      deps.Topology,
		snapshots:     deps.Snapshots,
		repo:          deps.Repo,
		verifyTimeout: timeout,
	}
}

// WaitBackground blocks until all background audit writes complete.
// Call during graceful shutdown to avoid dropped writes.
func (s *ControlService) WaitBackground() {
	s.wgBg.Wait()
}

func (s *ControlService) controllerFor(junctionID string) (string, error) {
	cid, ok := s.topology.Routes.ControllerFor(junctionID)
	if !ok {
		return "", fmt.Errorf("%w: no traffic light for junction '%s'", domain.ErrNotFound, junctionID)
	}
	return cid, nil
}

// SetDuration changes the remaining duration of the current phase
func (s *ControlService) SetDuration(ctx context.Context, req domain.DurationRequest) error {
	if req.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", domain.ErrValidation)
	}
	cid, err := s.controllerFor(req.JunctionID)
	if err != nil {
		return err
	}
	return s.gate.With(ctx, func() error {
		return s.stepper.SetControllerPhaseDuration(cid, float64(req.Duration))
	})
}

// SetStateDuration switches one link of a junction's controller, forcing its
// conflicting links to red, and waits until the loop verifies the new state.
// Out-of-bounds indices and missing conflict maps fail before any stepper call.
func (s *ControlService) SetStateDuration(ctx context.Context, req domain.StateDurationRequest) (domain.ControlResult, error) {
	if req.Duration < 1 {
		return domain.ControlResult{}, fmt.Errorf("%w: duration must be at least 1", domain.ErrValidation)
	}
	cid, err := s.controllerFor(req.JunctionID)
	if err != nil {
		return domain.ControlResult{}, err
	}

	signal, err := s.snapshots.Signal(ctx, cid)
	if err != nil {
		return domain.ControlResult{}, fmt.Errorf("control: failed to read current state of %s: %w", cid, err)
	}
	conflicts, _ := s.topology.ConflictMap(cid)
	desired, err := ComputeLinkState(signal.State, conflicts, req.LightIndex, req.State)
	if err != nil {
		return domain.ControlResult{}, err
	}

	task := domain.NewControlTask(cid, desired, req.Duration)
	task.WebhookURL = req.WebhookURL
	done := task.Done()

	err = s.gate.With(ctx, func() error {
		if err := s.scheduler.Submit(task); err != nil {
			return err
		}
		if err := s.stepper.SetControllerState(cid, desired); err != nil {
			s.scheduler.Remove(cid, task)
			return err
		}
		return nil
	})
	if err != nil {
		return domain.ControlResult{}, err
	}
	log.Printf("[Control] %s set to '%s' for %ds, awaiting verification", cid, desired, req.Duration)

	timer := time.NewTimer(s.verifyTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return verificationOutcome(res)
	case <-timer.C:
	case <-ctx.Done():
	}
	return s.abandon(cid, task, done)
}

// abandon removes a task nobody waits for anymore, unless the loop got to it
// first. In that case its result is about to be delivered and wins over the
// timeout, and the task stays to finish its manual phase.
func (s *ControlService) abandon(cid string, task *domain.ControlTask, done <-chan domain.ControlResult) (domain.ControlResult, error) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.verifyTimeout)
	defer cancel()

	removed := false
	if err := s.gate.Lock(cleanupCtx); err == nil {
		removed = s.scheduler.RemoveIfAwaiting(cid, task)
		s.gate.Unlock()
	} else {
		log.Printf("[Control] Could not remove timed out task for %s: %v", cid, err)
	}

	if !removed {
		// results are delivered right after the loop releases the gate
		select {
		case res := <-done:
			return verificationOutcome(res)
		case <-cleanupCtx.Done():
		}
	}

	log.Printf("[Control] Verification for %s timed out", cid)
	return domain.ControlResult{
		ControllerID: cid,
		Status:       domain.StatusFailedVerification,
		Detail:       "Verification timed out",
	}, fmt.Errorf("%w: %s", domain.ErrVerificationTimeout, cid)
}

func verificationOutcome(res domain.ControlResult) (domain.ControlResult, error) {
	if res.Verified() {
		return res, nil
	}
	return res, fmt.Errorf("%w: %s", domain.ErrVerificationFailed, res.Detail)
}

// JunctionExists reports whether the simulation has a junction with this id
func (s *ControlService) JunctionExists(ctx context.Context, junctionID string) (bool, error) {
	var exists bool
	err := s.gate.With(ctx, func() error {
		ids, err := s.stepper.JunctionIDs()
		if err != nil {
			return err
		}
		exists = lo.Contains(ids, junctionID)
		return nil
	})
	return exists, err
}

// VehicleStatus reads a vehicle's speed, position and lane live from the stepper
func (s *ControlService) VehicleStatus(ctx context.Context, vehicleID string) (domain.VehicleStatus, error) {
	status := domain.VehicleStatus{VehicleID: vehicleID}
	err := s.gate.With(ctx, func() error {
		var err error
		if status.Speed, err = s.stepper.VehicleSpeed(vehicleID); err != nil {
			return err
		}
		if status.Position, err = s.stepper.VehiclePosition(vehicleID); err != nil {
			return err
		}
		status.Lane, err = s.stepper.VehicleLane(vehicleID)
		return err
	})
	return status, err
}

// TriggerEvent validates and dispatches a scenario event, then records it
// in the audit log in the background.
func (s *ControlService) TriggerEvent(ctx context.Context, cmd domain.EventCommand) (domain.EventResult, error) {
	if cmd.EventID == "" {
		cmd.EventID = uuid.NewString()
	}
	if err := cmd.Validate(); err != nil {
		return domain.EventFailed(cmd.EventID, err.Error()), err
	}

	var result domain.EventResult
	err := s.gate.With(ctx, func() error {
		var err error
		result, err = s.events.Trigger(cmd)
		return err
	})
	if err != nil {
		return domain.EventFailed(cmd.EventID, err.Error()), err
	}
	log.Printf("[Events] %s %s: success=%t %s", cmd.Kind, cmd.EventID, result.Success, result.Message)

	s.audit(cmd, result)
	return result, nil
}

func (s *ControlService) audit(cmd domain.EventCommand, result domain.EventResult) {
	if s.repo == nil {
		return
	}
	payload, err := sonnet.Marshal(cmd)
	if err != nil {
		log.Printf("Failed to encode event %s for audit: %v", cmd.EventID, err)
	}
	entry := domain.EventLog{
		ID:        uuid.NewString(),
		EventID:   cmd.EventID,
		Kind:      cmd.Kind,
		Success:   result.Success,
		Message:   result.Message,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	// Persist asynchronously (tracked for graceful shutdown)
	s.wgBg.Add(1)
	go func() {
		defer s.wgBg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.SaveEventLog(bgCtx, entry); err != nil {
			log.Printf("Failed to save event log: %v", err)
		}
	}()
}
