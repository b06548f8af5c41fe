package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcity/trafficcore/internal/domain"
)

// fakeRows serves canned rows and then reports err, like a connection that
// drops halfway through a result set
type fakeRows struct {
	rows   [][]any
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.rows) {
		r.closed = true
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *bool:
			*p = row[i].(bool)
		case *int:
			*p = row[i].(int)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func eventRow(id, eventID string) []any {
	return []any{id, eventID, "vehicle_breakdown", true, "ok", time.Unix(100, 0)}
}

func TestCollectEventLogs(t *testing.T) {
	rows := &fakeRows{rows: [][]any{eventRow("1", "bd-1"), eventRow("2", "bd-2")}}

	logs, err := collectEventLogs(rows)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "bd-1", logs[0].EventID)
	assert.Equal(t, domain.EventKind("vehicle_breakdown"), logs[0].Kind)
	assert.True(t, rows.closed)
}

func TestCollectEventLogs_Empty(t *testing.T) {
	logs, err := collectEventLogs(&fakeRows{})
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}

func TestCollectEventLogs_ReportsIterationError(t *testing.T) {
	dropped := errors.New("connection reset")
	rows := &fakeRows{rows: [][]any{eventRow("1", "bd-1")}, err: dropped}

	logs, err := collectEventLogs(rows)
	assert.ErrorIs(t, err, dropped)
	assert.Nil(t, logs)
}

func TestScanFlowRelation(t *testing.T) {
	rows := &fakeRows{
		rows: [][]any{{"A", "W2A", "A2B", 0, "NA2A", "A2SA", 1, "Conflicting"}},
		err:  errors.New("connection reset"),
	}

	_, err := pgx.CollectRows(rows, scanFlowRelation)
	assert.Error(t, err)

	rows = &fakeRows{rows: [][]any{{"A", "W2A", "A2B", 0, "NA2A", "A2SA", 1, "Conflicting"}}}
	rels, err := pgx.CollectRows(rows, scanFlowRelation)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, domain.TrafficStream{From: "NA2A", To: "A2SA"}, rels[0].Stream2)
	assert.Equal(t, 1, rels[0].LinkIndex2)
	assert.Equal(t, domain.RelationConflicting, rels[0].Relationship)
}
