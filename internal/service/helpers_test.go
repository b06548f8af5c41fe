package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/repository/memory"
	"github.com/smartcity/trafficcore/internal/repository/postgres"
	"github.com/smartcity/trafficcore/internal/stepper/sandbox"
)

const crossNetwork = "../stepper/sandbox/testdata/cross.yaml"

func stream(from, to string) domain.TrafficStream {
	return domain.TrafficStream{From: from, To: to}
}

// crossRelations describes junction C of the cross network: the two
// approaches conflict, turns from the same approach do not.
var crossRelations = []domain.FlowRelation{
	{
		JunctionID:   "C",
		Stream1:      stream("W2C", "C2E"),
		LinkIndex1:   0,
		Stream2:      stream("N2C", "C2S"),
		LinkIndex2:   1,
		Relationship: domain.RelationConflicting,
	},
	{
		JunctionID:   "C",
		Stream1:      stream("W2C", "C2E"),
		LinkIndex1:   0,
		Stream2:      stream("W2C", "C2S"),
		LinkIndex2:   2,
		Relationship: domain.RelationNonConflicting,
	},
	{
		JunctionID:   "C",
		Stream1:      stream("N2C", "C2S"),
		LinkIndex1:   1,
		Stream2:      stream("N2C", "C2E"),
		LinkIndex2:   3,
		Relationship: domain.RelationNonConflicting,
	},
}

type staticRelations []domain.FlowRelation

func (s staticRelations) LoadFlowRelations(ctx context.Context) ([]domain.FlowRelation, error) {
	return s, nil
}

// recordingStepper counts state commands so tests can assert none were sent
type recordingStepper struct {
	*sandbox.Stepper
	setStateCalls int
}

func (r *recordingStepper) SetControllerState(controllerID, state string) error {
	r.setStateCalls++
	return r.Stepper.SetControllerState(controllerID, state)
}

func openCross(t *testing.T) *sandbox.Stepper {
	t.Helper()
	s, err := sandbox.Open(crossNetwork)
	require.NoError(t, err)
	return s
}

func stepN(t *testing.T, s domain.Stepper, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Step())
	}
}

type harness struct {
	stepper   *recordingStepper
	gate      *Gate
	scheduler *TaskScheduler
	events    *EventManager
	topology  *Topology
	cache     *memory.Cache
	repo      *postgres.MockRepository
	loop      *SimulationLoop
	snapshots *SnapshotService
	control   *ControlService
}

func newHarness(t *testing.T, verifyTimeout time.Duration) *harness {
	t.Helper()
	stepper := &recordingStepper{Stepper: openCross(t)}

	topology, err := BuildTopology(context.Background(), stepper, staticRelations(crossRelations), DefaultControllerPrefix)
	require.NoError(t, err)

	h := &harness{
		stepper:   stepper,
		gate:      NewGate(),
		scheduler: NewTaskScheduler(),
		events:    NewEventManager(stepper).WithRand(rand.New(rand.NewSource(1))),
		topology:  topology,
		cache:     memory.New(),
		repo:      postgres.NewMockRepository(nil),
	}
	h.loop = NewSimulationLoop(LoopDeps{
		Stepper:   stepper,
		Gate:      h.gate,
		Scheduler: h.scheduler,
		Events:    h.events,
		Topology:  topology,
		Publisher: NewDirectPublisher(h.cache, time.Minute),
		Interval:  time.Millisecond,
	})
	h.snapshots = NewSnapshotService(h.cache, h.loop, h.repo, h.events)
	h.control = NewControlService(ControlDeps{
		Stepper:       stepper,
		Gate:          h.gate,
		Scheduler:     h.scheduler,
		Events:        h.events,
		Topology:      topology,
		Snapshots:     h.snapshots,
		Repo:          h.repo,
		VerifyTimeout: verifyTimeout,
	})
	t.Cleanup(func() {
		h.loop.Stop()
		h.control.WaitBackground()
	})
	return h
}

func (h *harness) iterate(n int) {
	for i := 0; i < n; i++ {
		h.loop.Iterate(context.Background())
	}
}

// controllerState reads the live state through the gate
func (h *harness) controllerState(t *testing.T, id string) string {
	t.Helper()
	var state string
	require.NoError(t, h.gate.With(context.Background(), func() error {
		var err error
		state, err = h.stepper.ControllerState(id)
		return err
	}))
	return state
}
