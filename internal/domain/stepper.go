package domain

import (
	"strconv"
	"strings"
)

// Position is a planar simulation coordinate
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ControlledLink is one lane-to-lane movement governed by a controller link index
type ControlledLink struct {
	FromLane string `json:"from"`
	ToLane   string `json:"to"`
	ViaLane  string `json:"via"`
}

// Stepper is the command surface of the external single-threaded simulation.
// It is not safe for concurrent use; every call must happen behind the gate.
// Any method may fail with an error wrapping ErrStepperFault when the
// connection to the simulation is unusable.
type Stepper interface {
	// Step advances the simulation by one discrete step
	Step() error
	// Time returns the current simulation clock in seconds
	Time() (float64, error)

	VehicleIDs() ([]string, error)
	VehicleSpeed(vehicleID string) (float64, error)
	SetVehicleSpeed(vehicleID string, speed float64) error
	VehicleLane(vehicleID string) (string, error)
	VehicleRoad(vehicleID string) (string, error)
	VehiclePosition(vehicleID string) (Position, error)
	// VehicleLeader returns the closest vehicle ahead and the gap to it.
	// found is false when there is no leader.
	VehicleLeader(vehicleID string) (leaderID string, gap float64, found bool, err error)
	AddRoute(routeID string, edges []string) error
	AddVehicle(vehicleID, routeID, typeID string) error
	RemoveVehicle(vehicleID string) error

	LaneIDs() ([]string, error)
	SetLaneDisallowed(laneID string, classes []string) error

	EdgeIDs() ([]string, error)
	EdgeStreetName(edgeID string) (string, error)
	EdgeLaneCount(edgeID string) (int, error)
	EdgeMeanSpeed(edgeID string) (float64, error)
	EdgeVehicleCount(edgeID string) (int, error)
	EdgeVehicleIDs(edgeID string) ([]string, error)
	EdgeHaltingCount(edgeID string) (int, error)
	EdgeOccupancy(edgeID string) (float64, error)
	EdgeWaitingTime(edgeID string) (float64, error)

	ControllerIDs() ([]string, error)
	ControllerState(controllerID string) (string, error)
	SetControllerState(controllerID, state string) error
	ControllerPhase(controllerID string) (int, error)
	ControllerPhaseDuration(controllerID string) (float64, error)
	SetControllerPhaseDuration(controllerID string, duration float64) error
	SetControllerProgram(controllerID, programID string) error
	ControllerNextSwitch(controllerID string) (float64, error)
	ControllerSpentDuration(controllerID string) (float64, error)
	ControllerLinks(controllerID string) ([][]ControlledLink, error)
	// ControllerPhases returns the state strings of the first declared program
	ControllerPhases(controllerID string) ([]string, error)

	JunctionIDs() ([]string, error)
	JunctionIncoming(junctionID string) ([]string, error)
	JunctionOutgoing(junctionID string) ([]string, error)

	Close() error
}

// DefaultProgramID is the program restored when a manual phase ends
const DefaultProgramID = "0"

// AllVehicleClasses disallows every vehicle class on a lane
const AllVehicleClasses = "all"

// LaneEdge returns the edge a lane id belongs to by stripping its "_<index>" suffix
func LaneEdge(laneID string) string {
	i := strings.LastIndexByte(laneID, '_')
	if i <= 0 {
		return laneID
	}
	if _, err := strconv.Atoi(laneID[i+1:]); err != nil {
		return laneID
	}
	return laneID[:i]
}
