package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartcity/trafficcore/internal/domain"
)

// PostgresRepository implements domain.DataRepository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// LoadFlowRelations reads the whole junction_flow_relations table
func (r *PostgresRepository) LoadFlowRelations(ctx context.Context) ([]domain.FlowRelation, error) {
	query := `
		SELECT junction_id, from_edge_id_1, to_edge_id_1, linkindex_1,
			   from_edge_id_2, to_edge_id_2, linkindex_2, relationship_type
		FROM junction_flow_relations
		ORDER BY junction_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query flow relations: %w", err)
	}
	results, err := pgx.CollectRows(rows, scanFlowRelation)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read flow relations: %w", err)
	}
	return results, nil
}

func scanFlowRelation(row pgx.CollectableRow) (domain.FlowRelation, error) {
	var (
		rel domain.FlowRelation
		rt  string
	)
	err := row.Scan(
		&rel.JunctionID, &rel.Stream1.From, &rel.Stream1.To, &rel.LinkIndex1,
		&rel.Stream2.From, &rel.Stream2.To, &rel.LinkIndex2, &rt,
	)
	rel.Relationship = domain.Relationship(rt)
	return rel, err
}

// SaveEventLog persists a triggered event to PostgreSQL
func (r *PostgresRepository) SaveEventLog(ctx context.Context, entry domain.EventLog) error {
	query := `
		INSERT INTO special_event_logs (
			id, event_id, event_type, success, message, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.EventID, string(entry.Kind), entry.Success, entry.Message, entry.Payload, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save event log: %w", err)
	}

	return nil
}

// RecentEventLogs returns the newest audit entries first
func (r *PostgresRepository) RecentEventLogs(ctx context.Context, limit int) ([]domain.EventLog, error) {
	query := `
		SELECT id, event_id, event_type, success, message, created_at
		FROM special_event_logs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query event logs: %w", err)
	}
	return collectEventLogs(rows)
}

// collectEventLogs drains rows and reports a failure that ended iteration early
func collectEventLogs(rows pgx.Rows) ([]domain.EventLog, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EventLog, error) {
		var (
			e    domain.EventLog
			kind string
		)
		err := row.Scan(&e.ID, &e.EventID, &kind, &e.Success, &e.Message, &e.CreatedAt)
		e.Kind = domain.EventKind(kind)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read event logs: %w", err)
	}
	return results, nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// Close releases the pool
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
