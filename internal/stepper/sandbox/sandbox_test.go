package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
)

func openCross(t *testing.T) *Stepper {
	t.Helper()
	s, err := Open("testdata/cross.yaml")
	require.NoError(t, err)
	return s
}

func stepN(t *testing.T, s *Stepper, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Step())
	}
}

func TestParseNetwork_Defaults(t *testing.T) {
	n, err := ParseNetwork(strings.NewReader(`
junctions:
  - {id: A, x: 0, y: 0}
  - {id: B, x: 30, y: 40}
  - {id: P, lat: 52.0, lon: 13.0}
  - {id: Q, lat: 52.0, lon: 13.01}
edges:
  - {id: AB, from: A, to: B}
  - {id: PQ, from: P, to: Q, lanes: 2, length: 0}
`))
	require.NoError(t, err)

	ab := n.Edges[0]
	assert.Equal(t, 1, ab.Lanes)
	assert.Equal(t, defaultSpeed, ab.Speed)
	assert.InDelta(t, 50.0, ab.Length, 1e-9)

	// 0.01 degrees of longitude at 52N is roughly 685m
	pq := n.Edges[1]
	assert.Equal(t, 2, pq.Lanes)
	assert.InDelta(t, 685, pq.Length, 5)
}

func TestParseNetwork_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown junction",
			yaml: `
junctions: [{id: A}]
edges: [{id: AB, from: A, to: B}]`,
		},
		{
			name: "state length mismatch",
			yaml: `
junctions: [{id: A}, {id: B, x: 10}]
edges: [{id: AB, from: A, to: B}]
controllers:
  - id: T
    junction: B
    phases: [{state: GG, duration: 10}]
    links: [[{from: AB_0, to: AB_0}]]`,
		},
		{
			name: "broken route",
			yaml: `
junctions: [{id: A}, {id: B, x: 10}, {id: C, x: 20}]
edges: [{id: AB, from: A, to: B}, {id: AC, from: A, to: C}]
routes: [{id: r, edges: [AB, AC]}]`,
		},
		{
			name: "unknown field",
			yaml: `
junctions: [{id: A, height: 3}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNetwork(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSignalProgramCycles(t *testing.T) {
	s := openCross(t)

	state, err := s.ControllerState("GS_C")
	require.NoError(t, err)
	assert.Equal(t, "GrGr", state)
	next, err := s.ControllerNextSwitch("GS_C")
	require.NoError(t, err)
	assert.Equal(t, 30.0, next)

	stepN(t, s, 30)
	state, _ = s.ControllerState("GS_C")
	phase, _ := s.ControllerPhase("GS_C")
	spent, _ := s.ControllerSpentDuration("GS_C")
	assert.Equal(t, "rGrG", state)
	assert.Equal(t, 1, phase)
	assert.Equal(t, 0.0, spent)

	phases, err := s.ControllerPhases("GS_C")
	require.NoError(t, err)
	assert.Equal(t, []string{"GrGr", "rGrG"}, phases)
}

func TestManualStateHoldsUntilProgramRestored(t *testing.T) {
	s := openCross(t)

	require.NoError(t, s.SetControllerState("GS_C", "rrrr"))
	stepN(t, s, 100)
	state, _ := s.ControllerState("GS_C")
	assert.Equal(t, "rrrr", state)

	require.NoError(t, s.SetControllerPhaseDuration("GS_C", 5))
	next, _ := s.ControllerNextSwitch("GS_C")
	assert.Equal(t, 105.0, next)

	stepN(t, s, 10)
	state, _ = s.ControllerState("GS_C")
	assert.Equal(t, "rrrr", state)

	require.NoError(t, s.SetControllerProgram("GS_C", domain.DefaultProgramID))
	state, _ = s.ControllerState("GS_C")
	assert.Equal(t, "GrGr", state)

	assert.ErrorIs(t, s.SetControllerProgram("GS_C", "1"), domain.ErrNotFound)
	assert.ErrorIs(t, s.SetControllerState("GS_C", "GG"), domain.ErrValidation)
	assert.ErrorIs(t, s.SetControllerState("GS_C", "GGxG"), domain.ErrValidation)
	assert.ErrorIs(t, s.SetControllerState("missing", "rrrr"), domain.ErrNotFound)
}

func TestVehiclesStopAtRed(t *testing.T) {
	s := openCross(t)
	stepN(t, s, 12)

	road, err := s.VehicleRoad("v0")
	require.NoError(t, err)
	assert.Equal(t, "C2E", road)

	road, _ = s.VehicleRoad("v1")
	speed, _ := s.VehicleSpeed("v1")
	assert.Equal(t, "N2C", road)
	assert.Equal(t, 0.0, speed)

	halting, err := s.EdgeHaltingCount("N2C")
	require.NoError(t, err)
	assert.Equal(t, 1, halting)
	waiting, _ := s.EdgeWaitingTime("N2C")
	assert.Equal(t, 2.0, waiting)

	// the crossing street turns green at t=30
	stepN(t, s, 18)
	road, _ = s.VehicleRoad("v1")
	assert.Equal(t, "C2S", road)
}

func TestVehicleArrivesAndLeaves(t *testing.T) {
	s := openCross(t)
	stepN(t, s, 20)

	ids, err := s.VehicleIDs()
	require.NoError(t, err)
	assert.NotContains(t, ids, "v0")
	_, err = s.VehicleRoad("v0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVehicleQueries(t *testing.T) {
	s := openCross(t)
	stepN(t, s, 1)

	occ, err := s.EdgeOccupancy("W2C")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, occ, 1e-9)

	mean, _ := s.EdgeMeanSpeed("C2E")
	assert.Equal(t, 10.0, mean)

	stepN(t, s, 2)
	leader, gap, found, err := s.VehicleLeader("v2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v0", leader)
	assert.Equal(t, 25.0, gap)

	_, _, found, err = s.VehicleLeader("v0")
	require.NoError(t, err)
	assert.False(t, found)

	stepN(t, s, 2)
	pos, err := s.VehiclePosition("v0")
	require.NoError(t, err)
	assert.Equal(t, domain.Position{X: -50, Y: 0}, pos)

	lane, _ := s.VehicleLane("v0")
	assert.Equal(t, "W2C_0", lane)
	ids, _ := s.EdgeVehicleIDs("W2C")
	assert.Equal(t, []string{"v0", "v2"}, ids)
}

func TestSetVehicleSpeed(t *testing.T) {
	s := openCross(t)
	require.NoError(t, s.SetVehicleSpeed("v0", 0))
	stepN(t, s, 3)
	pos, _ := s.VehiclePosition("v0")
	assert.Equal(t, -100.0, pos.X)

	require.NoError(t, s.SetVehicleSpeed("v0", -1))
	stepN(t, s, 1)
	speed, _ := s.VehicleSpeed("v0")
	assert.Equal(t, 10.0, speed)

	assert.ErrorIs(t, s.SetVehicleSpeed("ghost", 0), domain.ErrNotFound)
}

func TestLaneClosureBlocksEntry(t *testing.T) {
	s := openCross(t)
	require.NoError(t, s.SetLaneDisallowed("C2E_0", []string{domain.AllVehicleClasses}))
	stepN(t, s, 12)
	road, _ := s.VehicleRoad("v0")
	assert.Equal(t, "W2C", road)

	require.NoError(t, s.SetLaneDisallowed("C2E_0", nil))
	stepN(t, s, 1)
	road, _ = s.VehicleRoad("v0")
	assert.Equal(t, "C2E", road)

	assert.ErrorIs(t, s.SetLaneDisallowed("nope_0", nil), domain.ErrNotFound)
}

func TestAddRouteAndVehicle(t *testing.T) {
	s := openCross(t)

	assert.ErrorIs(t, s.AddRoute("r_we", []string{"W2C"}), domain.ErrValidation)
	assert.ErrorIs(t, s.AddRoute("bad", []string{"W2C", "C2E", "N2C"}), domain.ErrValidation)
	require.NoError(t, s.AddRoute("r_wn", []string{"W2C", "C2S"}))

	assert.ErrorIs(t, s.AddVehicle("ev1", "missing", "emergency"), domain.ErrNotFound)
	require.NoError(t, s.AddVehicle("ev1", "r_wn", "emergency"))
	assert.ErrorIs(t, s.AddVehicle("ev1", "r_wn", "emergency"), domain.ErrValidation)

	road, err := s.VehicleRoad("ev1")
	require.NoError(t, err)
	assert.Equal(t, "W2C", road)

	require.NoError(t, s.RemoveVehicle("ev1"))
	assert.ErrorIs(t, s.RemoveVehicle("ev1"), domain.ErrNotFound)
}

func TestJunctionEdges(t *testing.T) {
	s := openCross(t)
	in, err := s.JunctionIncoming("C")
	require.NoError(t, err)
	assert.Equal(t, []string{"W2C", "N2C"}, in)
	out, _ := s.JunctionOutgoing("C")
	assert.Equal(t, []string{"C2E", "C2S"}, out)

	_, err = s.JunctionIncoming("Z")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	links, err := s.ControllerLinks("GS_C")
	require.NoError(t, err)
	require.Len(t, links, 4)
	assert.Equal(t, domain.ControlledLink{FromLane: "N2C_0", ToLane: "C2S_0", ViaLane: ":C_1_0"}, links[1][0])
}

func TestClosedStepperFaults(t *testing.T) {
	s := openCross(t)
	require.NoError(t, s.Close())

	err := s.Step()
	assert.True(t, domain.IsStepperFault(err))
	_, err = s.VehicleRoad("v0")
	assert.True(t, domain.IsStepperFault(err))
}

func TestShippedNetworkLoads(t *testing.T) {
	s, err := Open("../../../configs/network.yaml")
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.ControllerIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"GS_A", "GS_B"}, ids)

	n, err := LoadNetwork("../../../configs/network.yaml")
	require.NoError(t, err)
	for _, e := range n.Edges {
		if e.ID == "A2B" {
			// 200m between crossings on the coordinates given
			assert.InDelta(t, 200, e.Length, 1)
		}
	}

	for i := 0; i < 40; i++ {
		require.NoError(t, s.Step())
	}
	state, err := s.ControllerState("GS_A")
	require.NoError(t, err)
	assert.Equal(t, "rGrG", state)
}
