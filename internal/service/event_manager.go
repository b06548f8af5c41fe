package service

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/smartcity/trafficcore/internal/domain"
)

// CollisionProximity is the largest leader gap that qualifies a pair for a collision
const CollisionProximity = 50.0

// EventManager owns the lifecycle of scenario events and emergency vehicle tracks.
// Trigger, expiry and tracking methods issue stepper commands and must be
// called while holding the gate. mu guards the maps only and is never held
// across a stepper call.
type EventManager struct {
	stepper domain.Stepper

	mu     sync.Mutex
	active map[string]domain.ScenarioEvent
	tracks map[string]*domain.EmergencyVehicleTrack

	// rng is only touched under the gate
	rng *rand.Rand
}

// NewEventManager creates an event manager bound to a stepper
func NewEventManager(stepper domain.Stepper) *EventManager {
	return &EventManager{
		stepper: stepper,
		active:  make(map[string]domain.ScenarioEvent),
		tracks:  make(map[string]*domain.EmergencyVehicleTrack),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source; used for reproducible runs
func (m *EventManager) WithRand(rng *rand.Rand) *EventManager {
	m.rng = rng
	return m
}

// Trigger dispatches a validated command to the matching trigger.
// Business failures are reported in the result; a stepper fault is returned as an error.
func (m *EventManager) Trigger(cmd domain.EventCommand) (domain.EventResult, error) {
	if err := cmd.Validate(); err != nil {
		return domain.EventFailed(cmd.EventID, err.Error()), nil
	}
	switch cmd.Kind {
	case domain.EventBreakdown:
		return m.TriggerBreakdown(cmd.EventID, cmd.Duration)
	case domain.EventCollision:
		return m.TriggerCollision(cmd.EventID, cmd.Duration)
	case domain.EventLaneClosure:
		return m.TriggerLaneClosure(cmd.EventID, cmd.Duration, cmd.LaneIDs)
	case domain.EventEmergencyVehicle:
		return m.TriggerEmergencyVehicle(cmd.Emergency())
	}
	return domain.EventFailed(cmd.EventID, fmt.Sprintf("unknown event type: %s", cmd.Kind)), nil
}

// TriggerBreakdown stops one random vehicle until the event expires
func (m *EventManager) TriggerBreakdown(eventID string, duration float64) (domain.EventResult, error) {
	if m.isActive(eventID) {
		return domain.EventFailed(eventID, fmt.Sprintf("Event '%s' is already active.", eventID)), nil
	}

	vehicles, err := m.stepper.VehicleIDs()
	if err != nil {
		return domain.EventResult{}, err
	}
	if len(vehicles) == 0 {
		return domain.EventFailed(eventID, "Event 'vehicle_breakdown' triggered failed. No vehicles found."), nil
	}

	target := vehicles[m.rng.Intn(len(vehicles))]
	lane, err := m.stepper.VehicleLane(target)
	if err != nil {
		return domain.EventResult{}, err
	}
	if err := m.stepper.SetVehicleSpeed(target, 0); err != nil {
		return domain.EventResult{}, err
	}

	if err := m.register(eventID, domain.EventBreakdown, duration, domain.EventRevert{VehicleIDs: []string{target}}); err != nil {
		return domain.EventResult{}, err
	}

	result := domain.EventSucceeded(eventID, "Event 'vehicle_breakdown' triggered successfully.")
	result.VehicleIDs = []string{target}
	result.LaneIDs = []string{lane}
	return result, nil
}

// TriggerCollision stops a follower and its close leader on the same lane
func (m *EventManager) TriggerCollision(eventID string, duration float64) (domain.EventResult, error) {
	if m.isActive(eventID) {
		return domain.EventFailed(eventID, fmt.Sprintf("Event '%s' is already active.", eventID)), nil
	}

	leader, follower, found, err := m.findCollisionCandidates()
	if err != nil {
		return domain.EventResult{}, err
	}
	if !found {
		return domain.EventFailed(eventID, "Event 'vehicle_collision' triggered failed. No suitable candidates found."), nil
	}

	lane, err := m.stepper.VehicleLane(leader)
	if err != nil {
		return domain.EventResult{}, err
	}
	for _, v := range []string{leader, follower} {
		if err := m.stepper.SetVehicleSpeed(v, 0); err != nil {
			return domain.EventResult{}, err
		}
	}

	pair := []string{leader, follower}
	if err := m.register(eventID, domain.EventCollision, duration, domain.EventRevert{VehicleIDs: pair}); err != nil {
		return domain.EventResult{}, err
	}

	result := domain.EventSucceeded(eventID, "Event 'vehicle_collision' triggered successfully.")
	result.VehicleIDs = pair
	result.LaneIDs = []string{lane}
	return result, nil
}

// findCollisionCandidates searches the vehicles in random order for a
// follower whose leader is within CollisionProximity on the same lane.
// Per-vehicle query errors skip that candidate.
func (m *EventManager) findCollisionCandidates() (leader, follower string, found bool, err error) {
	vehicles, err := m.stepper.VehicleIDs()
	if err != nil {
		return "", "", false, err
	}
	if len(vehicles) < 2 {
		return "", "", false, nil
	}

	candidates := append([]string(nil), vehicles...)
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, f := range candidates {
		leaderID, gap, ok, err := m.stepper.VehicleLeader(f)
		if err != nil || !ok || gap >= CollisionProximity {
			continue
		}
		followerLane, err := m.stepper.VehicleLane(f)
		if err != nil {
			continue
		}
		leaderLane, err := m.stepper.VehicleLane(leaderID)
		if err != nil {
			continue
		}
		if followerLane == leaderLane {
			return leaderID, f, true, nil
		}
	}
	return "", "", false, nil
}

// TriggerLaneClosure disallows every vehicle class on the given lanes
func (m *EventManager) TriggerLaneClosure(eventID string, duration float64, laneIDs []string) (domain.EventResult, error) {
	if m.isActive(eventID) {
		return domain.EventFailed(eventID, fmt.Sprintf("Event '%s' is already active.", eventID)), nil
	}

	known, err := m.stepper.LaneIDs()
	if err != nil {
		return domain.EventResult{}, err
	}
	// all lanes are checked before any is closed
	for _, lane := range laneIDs {
		if !lo.Contains(known, lane) {
			return domain.EventFailed(eventID, fmt.Sprintf("Lane '%s' does not exist.", lane)), nil
		}
	}

	for _, lane := range laneIDs {
		if err := m.stepper.SetLaneDisallowed(lane, []string{domain.AllVehicleClasses}); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.EventFailed(eventID, fmt.Sprintf("Lane '%s' does not exist.", lane)), nil
			}
			return domain.EventResult{}, err
		}
	}

	lanes := append([]string(nil), laneIDs...)
	if err := m.register(eventID, domain.EventLaneClosure, duration, domain.EventRevert{LaneIDs: lanes}); err != nil {
		return domain.EventResult{}, err
	}

	result := domain.EventSucceeded(eventID, "Event 'lane_closure' triggered successfully.")
	result.LaneIDs = lanes
	return result, nil
}

// TriggerEmergencyVehicle injects a vehicle on a dedicated route and starts tracking it
func (m *EventManager) TriggerEmergencyVehicle(cmd domain.EmergencyVehicleCommand) (domain.EventResult, error) {
	if err := cmd.Validate(); err != nil {
		return domain.EventFailed(cmd.EventID, err.Error()), nil
	}
	if m.isTracked(cmd.VehicleID) {
		return domain.EventFailed(cmd.EventID, fmt.Sprintf("Emergency vehicle '%s' is already being tracked.", cmd.VehicleID)), nil
	}

	vehicles, err := m.stepper.VehicleIDs()
	if err != nil {
		return domain.EventResult{}, err
	}
	if lo.Contains(vehicles, cmd.VehicleID) {
		return domain.EventFailed(cmd.EventID, fmt.Sprintf("Vehicle '%s' already exists in the simulation.", cmd.VehicleID)), nil
	}

	vehicleType := cmd.VehicleType
	if vehicleType == "" {
		vehicleType = domain.DefaultEmergencyVehicleType
	}
	routeID := fmt.Sprintf("ev_route_%s_%s", cmd.VehicleID, uuid.NewString())

	if err := m.stepper.AddRoute(routeID, cmd.RouteEdges); err != nil {
		if domain.IsStepperFault(err) {
			return domain.EventResult{}, err
		}
		return domain.EventFailed(cmd.EventID, fmt.Sprintf("Failed to add route for emergency vehicle: %v", err)), nil
	}
	if err := m.stepper.AddVehicle(cmd.VehicleID, routeID, vehicleType); err != nil {
		if domain.IsStepperFault(err) {
			return domain.EventResult{}, err
		}
		return domain.EventFailed(cmd.EventID, fmt.Sprintf("Failed to inject emergency vehicle: %v", err)), nil
	}

	track := &domain.EmergencyVehicleTrack{
		EventID:             cmd.EventID,
		VehicleID:           cmd.VehicleID,
		VehicleType:         vehicleType,
		Organization:        cmd.Organization,
		RouteID:             routeID,
		Route:               append([]string(nil), cmd.RouteEdges...),
		JunctionsOnPath:     append([]string(nil), cmd.JunctionsOnPath...),
		SignalizedJunctions: append([]string(nil), cmd.SignalizedJunctions...),
	}
	m.mu.Lock()
	m.tracks[cmd.VehicleID] = track
	m.mu.Unlock()

	log.Printf("[Events] Emergency vehicle %s injected on route %s (%d edges)", cmd.VehicleID, routeID, len(cmd.RouteEdges))
	result := domain.EventSucceeded(cmd.EventID, "Emergency vehicle injected and tracked successfully.")
	result.VehicleIDs = []string{cmd.VehicleID}
	return result, nil
}

// CheckForExpiredEvents reverts every event whose time is up. Each event is
// removed from the active set before its revert runs, so a revert happens once.
func (m *EventManager) CheckForExpiredEvents(now float64) []domain.ScenarioEvent {
	m.mu.Lock()
	var expired []domain.ScenarioEvent
	for id, ev := range m.active {
		if ev.Expired(now) {
			expired = append(expired, ev)
			delete(m.active, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	for _, ev := range expired {
		m.revert(ev)
		log.Printf("[Events] Event cleared automatically: ID=%s, type=%s", ev.ID, ev.Kind)
	}
	return expired
}

// revert restores what an event changed, tolerating vanished vehicles and lanes
func (m *EventManager) revert(ev domain.ScenarioEvent) {
	switch ev.Kind {
	case domain.EventBreakdown, domain.EventCollision:
		for _, v := range ev.Revert.VehicleIDs {
			if err := m.stepper.RemoveVehicle(v); err != nil && !errors.Is(err, domain.ErrNotFound) {
				log.Printf("[Events] Failed to remove vehicle %s for event %s: %v", v, ev.ID, err)
			}
		}
	case domain.EventLaneClosure:
		for _, lane := range ev.Revert.LaneIDs {
			if err := m.stepper.SetLaneDisallowed(lane, nil); err != nil && !errors.Is(err, domain.ErrNotFound) {
				log.Printf("[Events] Failed to reopen lane %s for event %s: %v", lane, ev.ID, err)
			}
		}
	}
}

func (m *EventManager) register(eventID string, kind domain.EventKind, duration float64, revert domain.EventRevert) error {
	now, err := m.stepper.Time()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.active[eventID] = domain.ScenarioEvent{
		ID:        eventID,
		Kind:      kind,
		StartTime: now,
		Duration:  duration,
		Revert:    revert,
	}
	m.mu.Unlock()
	log.Printf("[Events] Event %s (%s) active until t=%.1f", eventID, kind, now+duration)
	return nil
}

func (m *EventManager) isActive(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[eventID]
	return ok
}

func (m *EventManager) isTracked(vehicleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracks[vehicleID]
	return ok
}

// ActiveEvents returns the active scenario events ordered by id
func (m *EventManager) ActiveEvents() []domain.ScenarioEvent {
	m.mu.Lock()
	events := lo.Values(m.active)
	m.mu.Unlock()
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events
}

// TrackedVehicles returns copies of the emergency vehicle tracks ordered by vehicle id
func (m *EventManager) TrackedVehicles() []domain.EmergencyVehicleTrack {
	m.mu.Lock()
	tracks := make([]domain.EmergencyVehicleTrack, 0, len(m.tracks))
	for _, t := range m.tracks {
		tracks = append(tracks, *t)
	}
	m.mu.Unlock()
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].VehicleID < tracks[j].VehicleID })
	return tracks
}
