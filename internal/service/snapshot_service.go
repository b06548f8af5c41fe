package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/smartcity/trafficcore/internal/domain"
)

// LoopStatusProvider reports the advancement loop's health
type LoopStatusProvider interface {
	Status() domain.LoopStatus
}

// ServiceStatus aggregates the health of the loop and its backing stores
type ServiceStatus struct {
	Loop              domain.LoopStatus `json:"loop"`
	CacheConnected    bool              `json:"cache_connected"`
	DatabaseConnected bool              `json:"database_connected"`
	ActiveEvents      int               `json:"active_events"`
	TrackedVehicles   int               `json:"tracked_vehicles"`
	Timestamp         time.Time         `json:"timestamp"`
}

// SnapshotService is the read API over the published snapshot. It never
// touches the stepper.
type SnapshotService struct {
	cache  domain.SnapshotCache
	loop   LoopStatusProvider
	repo   domain.EventLogRepository
	events *EventManager
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	cache domain.SnapshotCache,
	loop LoopStatusProvider,
	repo domain.EventLogRepository,
	events *EventManager,
) *SnapshotService {
	return &SnapshotService{
		cache:  cache,
		loop:   loop,
		repo:   repo,
		events: events,
	}
}

// SimulationTime returns the time of the last published step
func (s *SnapshotService) SimulationTime(ctx context.Context) (float64, error) {
	raw, err := s.cache.Get(ctx, domain.KeySimulationTime)
	if err != nil {
		return 0, err
	}
	var t float64
	if err := sonnet.Unmarshal(raw, &t); err != nil {
		return 0, fmt.Errorf("snapshot: failed to decode simulation time: %w", err)
	}
	return t, nil
}

// Edge returns the last published record of a road segment
func (s *SnapshotService) Edge(ctx context.Context, edgeID string) (domain.EdgeStatus, error) {
	var rec domain.EdgeStatus
	err := s.field(ctx, domain.KeyEdges, edgeID, &rec)
	return rec, err
}

// Signal returns the last published record of a controller
func (s *SnapshotService) Signal(ctx context.Context, controllerID string) (domain.SignalStatus, error) {
	var rec domain.SignalStatus
	err := s.field(ctx, domain.KeySignals, controllerID, &rec)
	return rec, err
}

// Junction returns the last published directional metrics of a junction
func (s *SnapshotService) Junction(ctx context.Context, junctionID string) (domain.JunctionMetrics, error) {
	var rec domain.JunctionMetrics
	err := s.field(ctx, domain.KeyJunctions, junctionID, &rec)
	return rec, err
}

// EmergencyVehicle returns the last published telemetry of a tracked emergency vehicle
func (s *SnapshotService) EmergencyVehicle(ctx context.Context, vehicleID string) (domain.EmergencyTelemetry, error) {
	var rec domain.EmergencyTelemetry
	err := s.field(ctx, domain.KeyEmergencyVehicles, vehicleID, &rec)
	return rec, err
}

func (s *SnapshotService) field(ctx context.Context, key, id string, v any) error {
	raw, err := s.cache.HGet(ctx, key, id)
	if err != nil {
		return err
	}
	if err := sonnet.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("snapshot: failed to decode %s/%s: %w", key, id, err)
	}
	return nil
}

// ActiveEvents lists the scenario events that have not expired yet
func (s *SnapshotService) ActiveEvents() []domain.ScenarioEvent {
	if s.events == nil {
		return nil
	}
	return s.events.ActiveEvents()
}

// RecentEvents returns the newest audit log entries
func (s *SnapshotService) RecentEvents(ctx context.Context, limit int) ([]domain.EventLog, error) {
	if s.repo == nil {
		return []domain.EventLog{}, nil
	}
	return s.repo.RecentEventLogs(ctx, limit)
}

// Status checks the cache and database concurrently and combines them with the loop status
func (s *SnapshotService) Status(ctx context.Context) ServiceStatus {
	status := ServiceStatus{Timestamp: time.Now()}
	if s.loop != nil {
		status.Loop = s.loop.Status()
	}
	if s.events != nil {
		status.ActiveEvents = len(s.events.ActiveEvents())
		status.TrackedVehicles = len(s.events.TrackedVehicles())
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := s.cache.Ping(ctx)
		mu.Lock()
		if err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		} else {
			status.CacheConnected = true
		}
		mu.Unlock()
	}()

	if s.repo != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.repo.Health(ctx)
			mu.Lock()
			if err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			} else {
				status.DatabaseConnected = true
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	for _, err := range errs {
		log.Printf("Status check error: %v", err)
	}
	return status
}

// IsUnavailable reports whether err means the snapshot has no such entry
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrSnapshotUnavailable)
}
