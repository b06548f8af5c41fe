package domain

import (
	"context"
	"time"
)

// RelationSource loads the junction_flow_relations table.
// The domain defines the interface; repositories implement it.
type RelationSource interface {
	// LoadFlowRelations returns every directional-flow relation row
	LoadFlowRelations(ctx context.Context) ([]FlowRelation, error)
}

// EventLogRepository persists the audit trail of triggered events
type EventLogRepository interface {
	// SaveEventLog persists one triggered event and its outcome
	SaveEventLog(ctx context.Context, entry EventLog) error

	// RecentEventLogs returns the newest entries first
	RecentEventLogs(ctx context.Context, limit int) ([]EventLog, error)

	// Health checks database connectivity
	Health(ctx context.Context) error
}

// DataRepository is the full persistence surface used at startup and by the event service
type DataRepository interface {
	RelationSource
	EventLogRepository
	Close()
}

// SnapshotCache is a volatile key-value store with expiry.
// Values are pre-encoded; a missing key or field returns ErrSnapshotUnavailable.
type SnapshotCache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// HSet replaces the given fields of a hash and refreshes its expiry
	HSet(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error
	// HReplace swaps the whole hash for fields, dropping any field not given
	HReplace(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Ping(ctx context.Context) error
	Close() error
}
