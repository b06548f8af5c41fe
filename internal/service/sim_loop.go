package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/smartcity/trafficcore/internal/domain"
)

// DefaultLoopInterval is the pause after every loop iteration
const DefaultLoopInterval = 100 * time.Millisecond

// SimulationLoop is the single writer that advances the stepper. Each
// iteration steps once, advances the control tasks, expires events and
// collects a snapshot, all under one acquisition of the gate.
type SimulationLoop struct {
	stepper   domain.Stepper
	gate      *Gate
	scheduler *TaskScheduler
	events    *EventManager
	topology  *Topology
	publisher SnapshotPublisher
	webhooks  *WebhookNotifier
	interval  time.Duration

	mu     sync.RWMutex
	status domain.LoopStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// LoopDeps groups the collaborators of the loop
type LoopDeps struct {
	Stepper   domain.Stepper
	Gate      *Gate
	Scheduler *TaskScheduler
	Events    *EventManager
	Topology  *Topology
	Publisher SnapshotPublisher
	Webhooks  *WebhookNotifier
	Interval  time.Duration
}

// NewSimulationLoop creates a stopped loop
func NewSimulationLoop(deps LoopDeps) *SimulationLoop {
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultLoopInterval
	}
	return &SimulationLoop{
		stepper:   deps.Stepper,
		gate:      deps.Gate,
		scheduler: deps.Scheduler,
		events:    deps.Events,
		topology:  deps.Topology,
		publisher: deps.Publisher,
		webhooks:  deps.Webhooks,
		interval:  interval,
		status: domain.LoopStatus{
			Connected: true,
			Message:   "simulation not started",
			UpdatedAt: time.Now(),
		},
	}
}

// ErrLoopRunning is returned when Start is called twice
var ErrLoopRunning = errors.New("simulation loop already running")

// Start launches the loop goroutine; it runs until ctx is done or Stop is called
func (l *SimulationLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return ErrLoopRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.status.Running = true
	l.status.Message = "simulation running"

	go l.run(ctx, l.done)
	log.Println("[SimLoop] Simulation loop started")
	return nil
}

// Stop signals the loop and waits for the current iteration to finish
func (l *SimulationLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	l.mu.Lock()
	l.cancel = nil
	l.done = nil
	l.status.Running = false
	l.status.Message = "simulation stopped"
	l.status.UpdatedAt = time.Now()
	l.mu.Unlock()
	log.Println("[SimLoop] Simulation loop stopped")
}

// Status returns the current health of the loop
func (l *SimulationLoop) Status() domain.LoopStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *SimulationLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		l.Iterate(ctx)
		timer.Reset(l.interval)
	}
}

// Iterate runs one full loop iteration. It is exported so tests can drive
// the loop step by step without the background goroutine.
func (l *SimulationLoop) Iterate(ctx context.Context) {
	if err := l.gate.Lock(ctx); err != nil {
		return
	}
	snap, notes, err := l.collect()
	l.gate.Unlock()

	// results are delivered only after the gate is released
	for _, n := range notes {
		n.Deliver()
		if l.webhooks != nil && n.Task.WebhookURL != "" {
			l.webhooks.NotifyAsync(n.Task.WebhookURL, n.Result)
		}
	}

	if err != nil {
		l.markFailed(err)
		return
	}
	if l.publisher != nil {
		l.publisher.Publish(ctx, snap)
	}
	l.markStepped(snap.SimulationTime)
}

// collect must be called while holding the gate
func (l *SimulationLoop) collect() (*domain.Snapshot, []Notification, error) {
	if err := l.stepper.Step(); err != nil {
		return nil, nil, err
	}
	now, err := l.stepper.Time()
	if err != nil {
		return nil, nil, err
	}

	notes, err := l.scheduler.Advance(l.stepper, now)
	if err != nil {
		return nil, notes, err
	}

	l.events.CheckForExpiredEvents(now)

	snap := domain.NewSnapshot(now)
	if err := l.collectEdges(snap); err != nil {
		return nil, notes, err
	}
	if err := l.collectSignals(snap); err != nil {
		return nil, notes, err
	}
	if metrics := l.topology.Metrics.Compute(l.stepper, now, snap.Signals); metrics != nil {
		snap.Junctions = metrics
	}
	snap.EmergencyVehicles, snap.PurgedVehicles = l.events.TrackActiveEmergencyVehicles(
		now, snap.Signals, l.topology.Routes.JunctionToController)

	return snap, notes, nil
}

func (l *SimulationLoop) collectEdges(snap *domain.Snapshot) error {
	ids, err := l.stepper.EdgeIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, err := edgeStatus(l.stepper, id, snap.SimulationTime)
		if err != nil {
			continue
		}
		snap.Edges[id] = rec
	}
	return nil
}

func edgeStatus(s domain.Stepper, id string, now float64) (domain.EdgeStatus, error) {
	rec := domain.EdgeStatus{EdgeID: id, Timestamp: now}
	var err error
	if rec.WaitingVehicleCount, err = s.EdgeHaltingCount(id); err != nil {
		return rec, err
	}
	waiting, err := s.EdgeWaitingTime(id)
	if err != nil {
		return rec, err
	}
	if rec.WaitingVehicleCount > 0 {
		rec.WaitingTime = waiting / float64(rec.WaitingVehicleCount)
	}
	if rec.EdgeName, err = s.EdgeStreetName(id); err != nil {
		return rec, err
	}
	if rec.LaneNumber, err = s.EdgeLaneCount(id); err != nil {
		return rec, err
	}
	if rec.Speed, err = s.EdgeMeanSpeed(id); err != nil {
		return rec, err
	}
	if rec.VehicleCount, err = s.EdgeVehicleCount(id); err != nil {
		return rec, err
	}
	if rec.VehicleIDs, err = s.EdgeVehicleIDs(id); err != nil {
		return rec, err
	}
	if rec.VehicleIDs == nil {
		rec.VehicleIDs = []string{}
	}
	if rec.Occupancy, err = s.EdgeOccupancy(id); err != nil {
		return rec, err
	}
	return rec, nil
}

func (l *SimulationLoop) collectSignals(snap *domain.Snapshot) error {
	ids, err := l.stepper.ControllerIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, err := l.signalStatus(id, snap.SimulationTime)
		if err != nil {
			continue
		}
		snap.Signals[id] = rec
	}
	return nil
}

func (l *SimulationLoop) signalStatus(id string, now float64) (domain.SignalStatus, error) {
	s := l.stepper
	junctionID, ok := l.topology.Routes.JunctionFor(id)
	if !ok {
		junctionID = id
	}
	rec := domain.SignalStatus{
		ControllerID: id,
		JunctionID:   junctionID,
		JunctionName: l.topology.Routes.NameOf(junctionID),
		Timestamp:    now,
	}

	var err error
	if rec.Phase, err = s.ControllerPhase(id); err != nil {
		return rec, err
	}
	if rec.State, err = s.ControllerState(id); err != nil {
		return rec, err
	}
	if rec.Duration, err = s.ControllerPhaseDuration(id); err != nil {
		return rec, err
	}
	if rec.Connection, err = s.ControllerLinks(id); err != nil {
		return rec, err
	}
	if rec.SpendTime, err = s.ControllerSpentDuration(id); err != nil {
		return rec, err
	}
	next, err := s.ControllerNextSwitch(id)
	if err != nil {
		return rec, err
	}
	rec.NextSwitchTime = next - now
	return rec, nil
}

func (l *SimulationLoop) markFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if domain.IsStepperFault(err) {
		if l.status.Connected {
			log.Printf("[SimLoop] Connection to simulation lost during step: %v", err)
			log.Println("[SimLoop] Will attempt again on the next iteration...")
		}
		l.status.Connected = false
		l.status.Message = "simulation connection lost during simulation"
	} else {
		log.Printf("[SimLoop] Step failed: %v", err)
		l.status.Message = "simulation step failed"
	}
	l.status.LastError = err.Error()
	l.status.UpdatedAt = time.Now()
}

func (l *SimulationLoop) markStepped(now float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.status.Connected {
		log.Println("[SimLoop] Connection to simulation restored")
	}
	l.status.Connected = true
	l.status.Message = "simulation running"
	l.status.LastError = ""
	l.status.SimulationTime = now
	l.status.Steps++
	l.status.UpdatedAt = time.Now()
}
