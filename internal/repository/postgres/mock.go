package postgres

import (
	"context"
	"sync"

	"github.com/smartcity/trafficcore/internal/domain"
)

// MockRepository implements domain.DataRepository for offline/demo mode.
// Relations come from an optional source (usually a SQL dump file) and
// event logs are kept in memory.
type MockRepository struct {
	relations domain.RelationSource

	mu   sync.Mutex
	logs []domain.EventLog
}

// NewMockRepository creates a new mock repository; relations may be nil
func NewMockRepository(relations domain.RelationSource) *MockRepository {
	return &MockRepository{relations: relations}
}

// LoadFlowRelations delegates to the relation source, or returns none
func (r *MockRepository) LoadFlowRelations(ctx context.Context) ([]domain.FlowRelation, error) {
	if r.relations == nil {
		return nil, nil
	}
	return r.relations.LoadFlowRelations(ctx)
}

// SaveEventLog keeps the entry in memory
func (r *MockRepository) SaveEventLog(ctx context.Context, entry domain.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry)
	return nil
}

// RecentEventLogs returns the newest in-memory entries first
func (r *MockRepository) RecentEventLogs(ctx context.Context, limit int) ([]domain.EventLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventLog, 0, limit)
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.logs[i])
	}
	return out, nil
}

// Health always returns nil in mock mode
func (r *MockRepository) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op in mock mode
func (r *MockRepository) Close() {}
