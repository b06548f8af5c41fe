package domain

import (
	"fmt"
	"strings"
)

// ConflictMap maps a link index to the sorted link indices that are never green with it
type ConflictMap map[int][]int

// Conflicts returns the conflict set of a link index
func (m ConflictMap) Conflicts(index int) []int {
	return m[index]
}

// Controller is a traffic-signal control unit
type Controller struct {
	ID          string      `json:"id"`
	JunctionID  string      `json:"junction_id"`
	ConflictMap ConflictMap `json:"-"`
}

// Intersection is a human-facing junction
type Intersection struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ControllerID string `json:"controller_id,omitempty"`
}

// TrafficStream is one directional movement through an intersection
type TrafficStream struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s TrafficStream) String() string {
	return fmt.Sprintf("(%s->%s)", s.From, s.To)
}

// Less orders streams lexicographically by origin then destination
func (s TrafficStream) Less(o TrafficStream) bool {
	if s.From != o.From {
		return s.From < o.From
	}
	return s.To < o.To
}

// Relationship between two streams of the same intersection
type Relationship string

const (
	RelationConflicting    Relationship = "Conflicting"
	RelationNonConflicting Relationship = "Non-Conflicting"
)

// ParseRelationship normalizes a stored relationship value, ignoring
// surrounding whitespace and letter case. Any other value is rejected.
func ParseRelationship(s string) (Relationship, error) {
	v := strings.TrimSpace(s)
	switch {
	case strings.EqualFold(v, string(RelationConflicting)):
		return RelationConflicting, nil
	case strings.EqualFold(v, string(RelationNonConflicting)):
		return RelationNonConflicting, nil
	}
	return "", fmt.Errorf("%w: unknown relationship %q", ErrValidation, s)
}

// FlowRelation is one row of the junction_flow_relations table
type FlowRelation struct {
	JunctionID   string
	Stream1      TrafficStream
	LinkIndex1   int
	Stream2      TrafficStream
	LinkIndex2   int
	Relationship Relationship
}

// StreamGroup is one of the two mutually exclusive stream classes of an intersection
type StreamGroup struct {
	Streams     []TrafficStream `json:"streams"`
	LinkIndices []int           `json:"link_indices"`
}

// Segments returns the distinct segments touched by the group's streams
func (g StreamGroup) Segments() []string {
	seen := make(map[string]struct{}, len(g.Streams)*2)
	segments := make([]string, 0, len(g.Streams)*2)
	for _, s := range g.Streams {
		for _, seg := range []string{s.From, s.To} {
			if _, ok := seen[seg]; ok {
				continue
			}
			seen[seg] = struct{}{}
			segments = append(segments, seg)
		}
	}
	return segments
}

// RepresentativeLink is the link whose signal character stands for the group
func (g StreamGroup) RepresentativeLink() (int, bool) {
	if len(g.LinkIndices) == 0 {
		return 0, false
	}
	return g.LinkIndices[0], true
}

// StreamPartition splits an intersection's streams into two exclusive groups
type StreamPartition struct {
	JunctionID string      `json:"junction_id"`
	Group1     StreamGroup `json:"group1"`
	Group2     StreamGroup `json:"group2"`
}
