// Package sqlite stores flow relations and the event audit log in a local
// SQLite file, for running without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smartcity/trafficcore/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS junction_flow_relations (
	junction_id       TEXT    NOT NULL,
	from_edge_id_1    TEXT    NOT NULL,
	to_edge_id_1      TEXT    NOT NULL,
	linkindex_1       INTEGER NOT NULL,
	from_edge_id_2    TEXT    NOT NULL,
	to_edge_id_2      TEXT    NOT NULL,
	linkindex_2       INTEGER NOT NULL,
	relationship_type TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relations_junction ON junction_flow_relations(junction_id);

CREATE TABLE IF NOT EXISTS special_event_logs (
	id         TEXT PRIMARY KEY,
	event_id   TEXT    NOT NULL,
	event_type TEXT    NOT NULL,
	success    INTEGER NOT NULL,
	message    TEXT    NOT NULL,
	payload    BLOB,
	created_at INTEGER NOT NULL
);
`

// Repository implements domain.DataRepository on SQLite
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open %s: %w", path, err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// ImportRelations replaces the relations table with rows in one transaction
func (r *Repository) ImportRelations(ctx context.Context, rows []domain.FlowRelation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM junction_flow_relations`); err != nil {
		return fmt.Errorf("sqlite: failed to clear relations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO junction_flow_relations (
			junction_id, from_edge_id_1, to_edge_id_1, linkindex_1,
			from_edge_id_2, to_edge_id_2, linkindex_2, relationship_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare relation insert: %w", err)
	}
	defer stmt.Close()

	for _, rel := range rows {
		_, err := stmt.ExecContext(ctx,
			rel.JunctionID, rel.Stream1.From, rel.Stream1.To, rel.LinkIndex1,
			rel.Stream2.From, rel.Stream2.To, rel.LinkIndex2, string(rel.Relationship),
		)
		if err != nil {
			return fmt.Errorf("sqlite: failed to insert relation for %s: %w", rel.JunctionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit import: %w", err)
	}
	return nil
}

// CountRelations returns the number of stored relation rows
func (r *Repository) CountRelations(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM junction_flow_relations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count relations: %w", err)
	}
	return n, nil
}

// LoadFlowRelations reads the whole junction_flow_relations table
func (r *Repository) LoadFlowRelations(ctx context.Context) ([]domain.FlowRelation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT junction_id, from_edge_id_1, to_edge_id_1, linkindex_1,
			   from_edge_id_2, to_edge_id_2, linkindex_2, relationship_type
		FROM junction_flow_relations
		ORDER BY junction_id, rowid`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query flow relations: %w", err)
	}
	defer rows.Close()

	var results []domain.FlowRelation
	for rows.Next() {
		var (
			rel domain.FlowRelation
			rt  string
		)
		err := rows.Scan(
			&rel.JunctionID, &rel.Stream1.From, &rel.Stream1.To, &rel.LinkIndex1,
			&rel.Stream2.From, &rel.Stream2.To, &rel.LinkIndex2, &rt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan flow relation row: %w", err)
		}
		rel.Relationship = domain.Relationship(rt)
		results = append(results, rel)
	}
	return results, rows.Err()
}

// SaveEventLog persists a triggered event
func (r *Repository) SaveEventLog(ctx context.Context, entry domain.EventLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO special_event_logs (id, event_id, event_type, success, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventID, string(entry.Kind), entry.Success, entry.Message, entry.Payload,
		entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save event log: %w", err)
	}
	return nil
}

// RecentEventLogs returns the newest audit entries first
func (r *Repository) RecentEventLogs(ctx context.Context, limit int) ([]domain.EventLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, success, message, payload, created_at
		FROM special_event_logs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query event logs: %w", err)
	}
	defer rows.Close()

	results := make([]domain.EventLog, 0, limit)
	for rows.Next() {
		var (
			e       domain.EventLog
			kind    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.EventID, &kind, &e.Success, &e.Message, &e.Payload, &created); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan event log row: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.CreatedAt = time.Unix(0, created)
		results = append(results, e)
	}
	return results, rows.Err()
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check failed: %w", err)
	}
	return nil
}

// Close closes the database
func (r *Repository) Close() {
	r.db.Close()
}
