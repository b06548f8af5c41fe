package service

import (
	"context"
	"fmt"
	"log"

	"github.com/smartcity/trafficcore/internal/domain"
)

// Topology is the static analysis of the network, built once at startup
// and shared read-only by every component.
type Topology struct {
	ConflictMaps map[string]domain.ConflictMap
	Routes       *JunctionRoutes
	Metrics      *JunctionMetricsEngine
	// ColoringErrors lists junctions left out of metrics because their relations contradict
	ColoringErrors []error
}

// BuildTopology runs the conflict map, junction routing and stream
// partition analyses. Relations that fail to load leave metrics empty.
func BuildTopology(ctx context.Context, stepper domain.Stepper, relations domain.RelationSource, prefix string) (*Topology, error) {
	conflicts, err := BuildConflictMaps(stepper)
	if err != nil {
		return nil, fmt.Errorf("topology: failed to build conflict maps: %w", err)
	}

	routes, err := BuildJunctionRoutes(stepper, prefix)
	if err != nil {
		return nil, fmt.Errorf("topology: failed to build junction routes: %w", err)
	}
	routes.VerifyNames()

	var rows []domain.FlowRelation
	if relations != nil {
		rows, err = relations.LoadFlowRelations(ctx)
		if err != nil {
			log.Printf("[Start Up] Warning: could not load flow relations: %v", err)
			rows = nil
		}
	}

	partitions, coloringErrs := PartitionRelations(rows)
	for _, e := range coloringErrs {
		log.Printf("[Start Up] Warning: %v", e)
	}
	log.Printf("[Start Up] Partitioned %d junctions from %d flow relations", len(partitions), len(rows))

	return &Topology{
		ConflictMaps:   conflicts,
		Routes:         routes,
		Metrics:        NewJunctionMetricsEngine(partitions, routes),
		ColoringErrors: coloringErrs,
	}, nil
}

// ConflictMap returns the conflict sets of a controller
func (t *Topology) ConflictMap(controllerID string) (domain.ConflictMap, bool) {
	cm, ok := t.ConflictMaps[controllerID]
	return cm, ok
}
