// Package sqlfile reads junction_flow_relations rows out of a SQL dump
// without needing a database.
package sqlfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/smartcity/trafficcore/internal/domain"
)

var (
	insertPattern = regexp.MustCompile(`(?s)INSERT INTO ` + "`?" + `junction_flow_relations` + "`?" + `.*?VALUES\s*(.*?);`)
	rowPattern    = regexp.MustCompile(`\('([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)'\)`)
)

// Parse extracts every relation row from the INSERT statements in r.
// Rows whose link indices are not integers are rejected.
func Parse(r io.Reader) ([]domain.FlowRelation, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sqlfile: failed to read dump: %w", err)
	}

	var relations []domain.FlowRelation
	for _, stmt := range insertPattern.FindAllSubmatch(content, -1) {
		for _, row := range rowPattern.FindAllSubmatch(stmt[1], -1) {
			rel, err := toRelation(row[1:])
			if err != nil {
				return nil, err
			}
			relations = append(relations, rel)
		}
	}
	return relations, nil
}

func toRelation(f [][]byte) (domain.FlowRelation, error) {
	link1, err := strconv.Atoi(string(f[3]))
	if err != nil {
		return domain.FlowRelation{}, fmt.Errorf("sqlfile: invalid linkindex_1 %q for junction %s: %w", f[3], f[0], err)
	}
	link2, err := strconv.Atoi(string(f[6]))
	if err != nil {
		return domain.FlowRelation{}, fmt.Errorf("sqlfile: invalid linkindex_2 %q for junction %s: %w", f[6], f[0], err)
	}
	return domain.FlowRelation{
		JunctionID:   string(f[0]),
		Stream1:      domain.TrafficStream{From: string(f[1]), To: string(f[2])},
		LinkIndex1:   link1,
		Stream2:      domain.TrafficStream{From: string(f[4]), To: string(f[5])},
		LinkIndex2:   link2,
		Relationship: domain.Relationship(f[7]),
	}, nil
}

// Source loads relations from a dump file on every call
type Source struct {
	path string
}

// NewSource creates a relation source reading the dump at path
func NewSource(path string) *Source {
	return &Source{path: path}
}

// LoadFlowRelations implements domain.RelationSource
func (s *Source) LoadFlowRelations(ctx context.Context) ([]domain.FlowRelation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("sqlfile: failed to open %s: %w", s.path, err)
	}
	defer f.Close()
	return Parse(f)
}
