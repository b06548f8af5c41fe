package service

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/smartcity/trafficcore/internal/domain"
)

// Notification is a task result to deliver once the gate is released
type Notification struct {
	Task   *domain.ControlTask
	Result domain.ControlResult
}

// Deliver hands the result to the waiting caller
func (n Notification) Deliver() {
	n.Task.Complete(n.Result)
}

// TaskScheduler holds at most one in-flight ControlTask per controller.
// Tasks are created by request handlers and advanced only by the loop,
// both while holding the gate.
type TaskScheduler struct {
	mu    sync.Mutex
	tasks map[string]*domain.ControlTask
}

// NewTaskScheduler creates an empty scheduler
func NewTaskScheduler() *TaskScheduler {
	return &TaskScheduler{tasks: make(map[string]*domain.ControlTask)}
}

// Submit registers a task. A task still awaiting verification for the same
// controller is not replaced; a task running its manual phase is superseded.
func (s *TaskScheduler) Submit(task *domain.ControlTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tasks[task.ControllerID]; ok {
		if existing.State == domain.TaskAwaitingVerification {
			return fmt.Errorf("%w: %s", domain.ErrTaskInFlight, task.ControllerID)
		}
		log.Printf("[Scheduler] Task for %s superseded while in %s", task.ControllerID, existing.State)
	}
	s.tasks[task.ControllerID] = task
	return nil
}

// Remove deletes the controller's task only if it is still the given one
func (s *TaskScheduler) Remove(controllerID string, task *domain.ControlTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.tasks[controllerID]; ok && current == task {
		delete(s.tasks, controllerID)
		return true
	}
	return false
}

// RemoveIfAwaiting deletes the controller's task only if it is still the given
// one and has not been verified yet. A verified task stays so the loop can
// restore the default program when its manual phase ends.
func (s *TaskScheduler) RemoveIfAwaiting(controllerID string, task *domain.ControlTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[controllerID]
	if !ok || current != task || current.State != domain.TaskAwaitingVerification {
		return false
	}
	delete(s.tasks, controllerID)
	return true
}

// Get returns the task in flight for a controller
func (s *TaskScheduler) Get(controllerID string) (*domain.ControlTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[controllerID]
	return t, ok
}

// Len returns the number of in-flight tasks
func (s *TaskScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Advance runs one transition of every task against the stepper and returns
// the notifications to deliver after the gate is released. A stepper fault
// stops the pass and is returned with the notifications gathered so far.
func (s *TaskScheduler) Advance(stepper domain.Stepper, now float64) ([]Notification, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	var notes []Notification
	for _, id := range ids {
		task, ok := s.Get(id)
		if !ok {
			continue
		}

		observed := ""
		if task.State == domain.TaskAwaitingVerification {
			state, err := stepper.ControllerState(id)
			if err != nil {
				if domain.IsStepperFault(err) {
					return notes, err
				}
				log.Printf("[Scheduler] Task for %s dropped: %v", id, err)
				s.Remove(id, task)
				notes = append(notes, Notification{Task: task, Result: domain.ControlResult{
					ControllerID: id,
					Status:       domain.StatusFailedVerification,
					Detail:       err.Error(),
				}})
				continue
			}
			observed = state
		}

		tr := task.Advance(now, observed)
		if err := applyTaskActions(stepper, id, tr.Actions); err != nil {
			if domain.IsStepperFault(err) {
				return notes, err
			}
			log.Printf("[Scheduler] Task for %s: failed to apply transition: %v", id, err)
		}

		s.mu.Lock()
		if s.tasks[id] == task {
			if tr.Finished() {
				delete(s.tasks, id)
			} else {
				*task = tr.Next
			}
		}
		s.mu.Unlock()

		if tr.Result != nil {
			if !tr.Result.Verified() {
				log.Printf("[Scheduler] Task %s: verification failed! %s", id, tr.Result.Detail)
			}
			notes = append(notes, Notification{Task: task, Result: *tr.Result})
		}
		if tr.Finished() && tr.Result == nil {
			log.Printf("[Scheduler] Task %s: time's up, default program restored", id)
		}
	}
	return notes, nil
}
