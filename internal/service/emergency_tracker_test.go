package service

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
)

// roadStepper answers the tracking queries from fixed tables
type roadStepper struct {
	domain.Stepper
	roads    map[string]string
	lanes    map[string]string
	incoming map[string][]string
}

func (s *roadStepper) VehicleRoad(id string) (string, error) {
	road, ok := s.roads[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return road, nil
}

func (s *roadStepper) VehicleLane(id string) (string, error) {
	return s.lanes[id], nil
}

func (s *roadStepper) VehiclePosition(id string) (domain.Position, error) {
	return domain.Position{X: 1, Y: 2}, nil
}

func (s *roadStepper) JunctionIncoming(id string) ([]string, error) {
	return s.incoming[id], nil
}

func trackingManager(st domain.Stepper, tracks ...domain.EmergencyVehicleTrack) *EventManager {
	m := NewEventManager(st).WithRand(rand.New(rand.NewSource(1)))
	for i := range tracks {
		tr := tracks[i]
		m.tracks[tr.VehicleID] = &tr
	}
	return m
}

var crossSignals = map[string]domain.SignalStatus{
	"GS_C": {
		ControllerID:   "GS_C",
		State:          "GrGr",
		NextSwitchTime: 12,
		Connection: [][]domain.ControlledLink{
			{{FromLane: "W2C_0", ToLane: "C2E_0"}},
			{{FromLane: "N2C_0", ToLane: "C2S_0"}},
			{{FromLane: "W2C_0", ToLane: "C2S_0"}},
			{{FromLane: "N2C_0", ToLane: "C2E_0"}},
		},
	},
}

var crossControllers = map[string]string{"C": "GS_C"}

func TestTracking_SignalizedJunction(t *testing.T) {
	st := &roadStepper{roads: map[string]string{"amb": "W2C"}, lanes: map[string]string{"amb": "W2C_0"}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{
		EventID:             "em-1",
		VehicleID:           "amb",
		Route:               []string{"W2C", "C2E"},
		JunctionsOnPath:     []string{"C"},
		SignalizedJunctions: []string{"C"},
	})

	telemetry, purge := m.TrackActiveEmergencyVehicles(18, crossSignals, crossControllers)
	assert.Empty(t, purge)
	require.Contains(t, telemetry, "amb")
	d := telemetry["amb"]

	assert.Equal(t, "em-1", d.EventID)
	assert.Equal(t, "W2C", d.CurrentEdgeID)
	assert.Equal(t, domain.Position{X: 1, Y: 2}, d.Position)
	assert.Equal(t, 18.0, d.Timestamp)
	require.NotNil(t, d.CurrentLaneID)
	assert.Equal(t, "W2C_0", *d.CurrentLaneID)
	require.NotNil(t, d.UpcomingJunctionID)
	assert.Equal(t, "C", *d.UpcomingJunctionID)
	require.NotNil(t, d.NextEdgeID)
	assert.Equal(t, "C2E", *d.NextEdgeID)
	require.NotNil(t, d.NextLaneID)
	assert.Equal(t, "C2E_0", *d.NextLaneID)
	require.NotNil(t, d.UpcomingTlsID)
	assert.Equal(t, "GS_C", *d.UpcomingTlsID)
	require.NotNil(t, d.UpcomingTlsState)
	assert.Equal(t, "GrGr", *d.UpcomingTlsState)
	require.NotNil(t, d.UpcomingTlsCountdown)
	assert.Equal(t, 12.0, *d.UpcomingTlsCountdown)

	tracks := m.TrackedVehicles()
	require.Len(t, tracks, 1)
	require.NotNil(t, tracks[0].Telemetry)
	assert.Equal(t, 0, tracks[0].RouteIndex)
}

func TestTracking_UnsignalizedJunctionLeavesLaneAndSignalNil(t *testing.T) {
	st := &roadStepper{roads: map[string]string{"amb": "W2C"}, lanes: map[string]string{"amb": "W2C_0"}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{
		VehicleID:       "amb",
		Route:           []string{"W2C", "C2E"},
		JunctionsOnPath: []string{"C"},
	})

	telemetry, _ := m.TrackActiveEmergencyVehicles(1, crossSignals, crossControllers)
	d := telemetry["amb"]
	require.NotNil(t, d.UpcomingJunctionID)
	require.NotNil(t, d.NextEdgeID)
	assert.Nil(t, d.CurrentLaneID)
	assert.Nil(t, d.NextLaneID)
	assert.Nil(t, d.UpcomingTlsID)
	assert.Nil(t, d.UpcomingTlsState)
	assert.Nil(t, d.UpcomingTlsCountdown)
}

func TestTracking_NoJunctionsOnPath(t *testing.T) {
	st := &roadStepper{roads: map[string]string{"amb": "W2C"}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{
		VehicleID: "amb",
		Route:     []string{"W2C", "C2E"},
	})

	telemetry, _ := m.TrackActiveEmergencyVehicles(1, crossSignals, crossControllers)
	d := telemetry["amb"]
	assert.Nil(t, d.UpcomingJunctionID)
	assert.Nil(t, d.CurrentLaneID)
	assert.Nil(t, d.NextLaneID)
	require.NotNil(t, d.NextEdgeID)
	assert.Equal(t, "C2E", *d.NextEdgeID)
}

func TestTracking_JunctionLookupByIncomingEdge(t *testing.T) {
	st := &roadStepper{
		roads:    map[string]string{"amb": "C2E"},
		incoming: map[string][]string{"C": {"W2C", "N2C"}, "E": {"C2E"}},
	}
	// three junctions for three edges do not line up with the route
	m := trackingManager(st, domain.EmergencyVehicleTrack{
		VehicleID:       "amb",
		Route:           []string{"W2C", "C2E", "E2X"},
		JunctionsOnPath: []string{"C", "E", "X"},
	})

	telemetry, _ := m.TrackActiveEmergencyVehicles(1, nil, nil)
	d := telemetry["amb"]
	require.NotNil(t, d.UpcomingJunctionID)
	assert.Equal(t, "E", *d.UpcomingJunctionID)
}

func TestTracking_InternalRoadIsSkipped(t *testing.T) {
	st := &roadStepper{roads: map[string]string{"amb": ":C_0"}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{VehicleID: "amb", Route: []string{"W2C", "C2E"}})

	telemetry, purge := m.TrackActiveEmergencyVehicles(1, nil, nil)
	assert.Empty(t, telemetry)
	assert.Empty(t, purge)
	assert.Len(t, m.TrackedVehicles(), 1)
}

func TestTracking_DeviationPurgesOnce(t *testing.T) {
	st := &roadStepper{roads: map[string]string{"amb": "N2C"}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{VehicleID: "amb", Route: []string{"W2C", "C2E"}})

	telemetry, purge := m.TrackActiveEmergencyVehicles(1, nil, nil)
	assert.Empty(t, telemetry)
	assert.Equal(t, []string{"amb"}, purge)

	_, purge = m.TrackActiveEmergencyVehicles(2, nil, nil)
	assert.Empty(t, purge)
	assert.Empty(t, m.TrackedVehicles())
}

func TestTracking_RouteIndexOnlyMovesForward(t *testing.T) {
	st := &roadStepper{roads: map[string]string{"amb": "C2E"}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{VehicleID: "amb", Route: []string{"W2C", "C2E"}})

	telemetry, _ := m.TrackActiveEmergencyVehicles(1, nil, nil)
	assert.Nil(t, telemetry["amb"].NextEdgeID)

	// going back to an edge already passed counts as leaving the route
	st.roads["amb"] = "W2C"
	_, purge := m.TrackActiveEmergencyVehicles(2, nil, nil)
	assert.Equal(t, []string{"amb"}, purge)
}

func TestTracking_VanishedVehicleIsPurged(t *testing.T) {
	st := &roadStepper{roads: map[string]string{}}
	m := trackingManager(st, domain.EmergencyVehicleTrack{VehicleID: "amb", Route: []string{"W2C"}})

	_, purge := m.TrackActiveEmergencyVehicles(1, nil, nil)
	assert.Equal(t, []string{"amb"}, purge)
}
