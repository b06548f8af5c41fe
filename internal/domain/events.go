package domain

import (
	"fmt"
	"time"
)

// EventKind identifies a scenario event type as it appears on the wire
type EventKind string

const (
	EventBreakdown        EventKind = "vehicle_breakdown"
	EventCollision        EventKind = "vehicle_collision"
	EventLaneClosure      EventKind = "lane_closure"
	EventEmergencyVehicle EventKind = "emergency_event"
)

// Valid reports whether the kind is one the manager can trigger
func (k EventKind) Valid() bool {
	switch k {
	case EventBreakdown, EventCollision, EventLaneClosure, EventEmergencyVehicle:
		return true
	}
	return false
}

// EventRevert holds what must be restored when an event expires
type EventRevert struct {
	VehicleIDs []string `json:"vehicle_ids,omitempty"`
	LaneIDs    []string `json:"lane_ids,omitempty"`
}

// ScenarioEvent is an active, self-expiring disturbance in the simulation
type ScenarioEvent struct {
	ID        string      `json:"event_id"`
	Kind      EventKind   `json:"event_type"`
	StartTime float64     `json:"start_time"`
	Duration  float64     `json:"duration"`
	Revert    EventRevert `json:"revert"`
}

// ExpiresAt is the simulation time at which the event is reverted
func (e ScenarioEvent) ExpiresAt() float64 {
	return e.StartTime + e.Duration
}

// Expired reports whether the event must be reverted at simulation time now
func (e ScenarioEvent) Expired(now float64) bool {
	return now >= e.ExpiresAt()
}

// EventCommand is the tagged union accepted by the event trigger operation.
// Kind selects which of the remaining fields are read.
type EventCommand struct {
	Kind     EventKind `json:"event_type"`
	EventID  string    `json:"event_id"`
	Duration float64   `json:"duration"`

	// lane_closure
	LaneIDs []string `json:"lane_ids,omitempty"`

	// emergency_event
	EmergencyVehicleCommand
}

// Validate rejects commands missing the fields their kind requires
func (c EventCommand) Validate() error {
	if c.Kind == "" {
		return fmt.Errorf("%w: command missing required field: event_type", ErrValidation)
	}
	switch c.Kind {
	case EventBreakdown, EventCollision:
		if c.Duration <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
	case EventLaneClosure:
		if c.Duration <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
		if len(c.LaneIDs) == 0 {
			return fmt.Errorf("%w: lane_closure requires lane_ids", ErrValidation)
		}
	case EventEmergencyVehicle:
		return c.Emergency().Validate()
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, c.Kind)
	}
	return nil
}

// Emergency returns the emergency vehicle part of the command with the event id filled in
func (c EventCommand) Emergency() EmergencyVehicleCommand {
	cmd := c.EmergencyVehicleCommand
	cmd.EventID = c.EventID
	return cmd
}

// EmergencyVehicleCommand injects and tracks an emergency vehicle on a fixed route
type EmergencyVehicleCommand struct {
	EventID             string   `json:"-"`
	VehicleID           string   `json:"vehicle_id,omitempty"`
	RouteEdges          []string `json:"route_edges,omitempty"`
	VehicleType         string   `json:"vehicle_type,omitempty"`
	Organization        string   `json:"organization,omitempty"`
	JunctionsOnPath     []string `json:"junctions_on_path,omitempty"`
	SignalizedJunctions []string `json:"signalized_junctions,omitempty"`
}

// DefaultEmergencyVehicleType is used when a command omits the vehicle type
const DefaultEmergencyVehicleType = "emergency"

func (c EmergencyVehicleCommand) Validate() error {
	if c.VehicleID == "" || len(c.RouteEdges) == 0 {
		return fmt.Errorf("%w: missing required fields (vehicle_id, route_edges)", ErrValidation)
	}
	return nil
}

// EventResult is the outcome reported for an event trigger
type EventResult struct {
	Success    bool     `json:"success"`
	EventID    string   `json:"event_id"`
	Message    string   `json:"message"`
	VehicleIDs []string `json:"vehicle_ids,omitempty"`
	LaneIDs    []string `json:"lane_ids,omitempty"`
}

// EventSucceeded builds a successful result
func EventSucceeded(eventID, message string) EventResult {
	return EventResult{Success: true, EventID: eventID, Message: message}
}

// EventFailed builds a failed result
func EventFailed(eventID, message string) EventResult {
	return EventResult{Success: false, EventID: eventID, Message: message}
}

// EmergencyVehicleTrack is the static plan and last telemetry of an injected emergency vehicle
type EmergencyVehicleTrack struct {
	EventID             string              `json:"eventID"`
	VehicleID           string              `json:"vehicleID"`
	VehicleType         string              `json:"vehicleType"`
	Organization        string              `json:"organization,omitempty"`
	RouteID             string              `json:"routeID"`
	Route               []string            `json:"route"`
	JunctionsOnPath     []string            `json:"junctionsOnPath"`
	SignalizedJunctions []string            `json:"signalizedJunctions"`
	// RouteIndex is the last route position the vehicle was seen at
	RouteIndex          int                 `json:"routeIndex"`
	Telemetry           *EmergencyTelemetry `json:"telemetry,omitempty"`
}

// IsSignalized reports whether a junction on the route is signal-controlled
func (t EmergencyVehicleTrack) IsSignalized(junctionID string) bool {
	for _, j := range t.SignalizedJunctions {
		if j == junctionID {
			return true
		}
	}
	return false
}

// EventLog is one audit row for a triggered event
type EventLog struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Kind      EventKind `json:"event_type"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
