package service

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

// LightStateUnavailable is reported when a group's signal character cannot be read
const LightStateUnavailable = "N/A"

// PartitionRelations splits every junction's streams into two mutually
// exclusive groups by two-coloring the relation graph: non-conflicting
// relations share a color, conflicting relations flip it. Junctions whose
// graph has an odd conflicting cycle or an unknown relationship value are
// left out and reported.
func PartitionRelations(relations []domain.FlowRelation) (map[string]domain.StreamPartition, []error) {
	byJunction := lo.GroupBy(relations, func(r domain.FlowRelation) string { return r.JunctionID })

	partitions := make(map[string]domain.StreamPartition, len(byJunction))
	var errs []error
	for junctionID, rows := range byJunction {
		partition, err := partitionJunction(junctionID, rows)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		partitions[junctionID] = partition
	}
	return partitions, errs
}

type streamEdge struct {
	to       domain.TrafficStream
	conflict bool
}

func partitionJunction(junctionID string, rows []domain.FlowRelation) (domain.StreamPartition, error) {
	adj := make(map[domain.TrafficStream][]streamEdge)
	linkIndex := make(map[domain.TrafficStream]int)
	for _, r := range rows {
		rel, err := domain.ParseRelationship(string(r.Relationship))
		if err != nil {
			return domain.StreamPartition{}, fmt.Errorf("junction %s: streams %s and %s: %w",
				junctionID, r.Stream1, r.Stream2, err)
		}
		conflict := rel == domain.RelationConflicting
		adj[r.Stream1] = append(adj[r.Stream1], streamEdge{to: r.Stream2, conflict: conflict})
		adj[r.Stream2] = append(adj[r.Stream2], streamEdge{to: r.Stream1, conflict: conflict})
		linkIndex[r.Stream1] = r.LinkIndex1
		linkIndex[r.Stream2] = r.LinkIndex2
	}

	streams := lo.Keys(adj)
	sort.Slice(streams, func(i, j int) bool { return streams[i].Less(streams[j]) })

	// colors are 1 and 2; 0 means unvisited
	colors := make(map[domain.TrafficStream]int, len(streams))
	for _, root := range streams {
		if colors[root] != 0 {
			continue
		}
		colors[root] = 1
		queue := []domain.TrafficStream{root}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, e := range adj[current] {
				want := colors[current]
				if e.conflict {
					want = 3 - want
				}
				switch colors[e.to] {
				case 0:
					colors[e.to] = want
					queue = append(queue, e.to)
				case want:
				default:
					return domain.StreamPartition{}, &domain.ColoringConflictError{
						JunctionID: junctionID,
						Stream:     current,
						Neighbor:   e.to,
					}
				}
			}
		}
	}

	partition := domain.StreamPartition{JunctionID: junctionID}
	for _, s := range streams {
		group := &partition.Group1
		if colors[s] == 2 {
			group = &partition.Group2
		}
		group.Streams = append(group.Streams, s)
		group.LinkIndices = append(group.LinkIndices, linkIndex[s])
	}
	return partition, nil
}

// JunctionMetricsEngine derives per-step directional metrics for every
// partitioned junction. Its partitions are immutable after construction.
type JunctionMetricsEngine struct {
	partitions map[string]domain.StreamPartition
	routes     *JunctionRoutes
}

// NewJunctionMetricsEngine creates an engine over precomputed partitions
func NewJunctionMetricsEngine(partitions map[string]domain.StreamPartition, routes *JunctionRoutes) *JunctionMetricsEngine {
	return &JunctionMetricsEngine{partitions: partitions, routes: routes}
}

// Partition returns the stream partition of a junction
func (e *JunctionMetricsEngine) Partition(junctionID string) (domain.StreamPartition, bool) {
	p, ok := e.partitions[junctionID]
	return p, ok
}

// Compute returns one metrics record per partitioned junction whose controller
// currently exists. A nil result means metrics are temporarily unavailable.
// Signal states are taken from signals when present, otherwise read live.
func (e *JunctionMetricsEngine) Compute(stepper domain.Stepper, now float64, signals map[string]domain.SignalStatus) map[string]domain.JunctionMetrics {
	if len(e.partitions) == 0 {
		return map[string]domain.JunctionMetrics{}
	}

	controllerIDs, err := stepper.ControllerIDs()
	if err != nil {
		log.Printf("[Junctions] Failed to get controller list: %v", err)
		return nil
	}
	live := lo.Associate(controllerIDs, func(id string) (string, struct{}) { return id, struct{}{} })

	out := make(map[string]domain.JunctionMetrics, len(e.partitions))
	for junctionID, p := range e.partitions {
		controllerID, ok := e.routes.ControllerFor(junctionID)
		if !ok {
			continue
		}
		if _, ok := live[controllerID]; !ok {
			continue
		}

		state, stateOK := e.controllerState(stepper, controllerID, signals)
		g1 := measureGroup(stepper, p.Group1, state, stateOK)
		g2 := measureGroup(stepper, p.Group2, state, stateOK)

		out[junctionID] = domain.JunctionMetrics{
			JunctionID:            junctionID,
			Edge1VehicleCount:     g1.vehicles,
			Edge2VehicleCount:     g2.vehicles,
			Edge1WaitingCount:     g1.halting,
			Edge2WaitingCount:     g2.halting,
			Edge1Occupancy:        g1.occupancy,
			Edge2Occupancy:        g2.occupancy,
			Edge1LightState:       g1.light,
			Edge2LightState:       g2.light,
			NextSwitchTime:        e.timeToSwitch(stepper, controllerID, now, signals),
			Edge1CongestionStatus: domain.ClassifyCongestion(g1.occupancy),
			Edge2CongestionStatus: domain.ClassifyCongestion(g2.occupancy),
		}
	}
	return out
}

func (e *JunctionMetricsEngine) controllerState(stepper domain.Stepper, controllerID string, signals map[string]domain.SignalStatus) (string, bool) {
	if s, ok := signals[controllerID]; ok {
		return s.State, true
	}
	state, err := stepper.ControllerState(controllerID)
	if err != nil {
		return "", false
	}
	return state, true
}

func (e *JunctionMetricsEngine) timeToSwitch(stepper domain.Stepper, controllerID string, now float64, signals map[string]domain.SignalStatus) float64 {
	// snapshot records already hold the remaining time
	if s, ok := signals[controllerID]; ok {
		return math.Max(s.NextSwitchTime, 0)
	}
	next, err := stepper.ControllerNextSwitch(controllerID)
	if err != nil || next <= 0 {
		return 0
	}
	return utils.Clamp(next-now, 0, next)
}

type groupMeasure struct {
	vehicles  int
	halting   int
	occupancy float64
	light     string
}

func measureGroup(stepper domain.Stepper, g domain.StreamGroup, state string, stateOK bool) groupMeasure {
	m := groupMeasure{light: LightStateUnavailable}
	for _, seg := range g.Segments() {
		if n, err := stepper.EdgeVehicleCount(seg); err == nil {
			m.vehicles += n
		}
		if n, err := stepper.EdgeHaltingCount(seg); err == nil {
			m.halting += n
		}
		if occ, err := stepper.EdgeOccupancy(seg); err == nil && occ > m.occupancy {
			m.occupancy = occ
		}
	}
	if idx, ok := g.RepresentativeLink(); ok && stateOK && idx >= 0 && idx < len(state) {
		m.light = string(state[idx])
	}
	return m
}
