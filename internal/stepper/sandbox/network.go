package sandbox

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/smartcity/trafficcore/pkg/utils"
)

const (
	defaultLaneCount = 1
	defaultSpeed     = 13.89
	minEdgeLength    = 1.0
)

// Network is the static road network loaded from a YAML file
type Network struct {
	Junctions   []JunctionSpec   `yaml:"junctions"`
	Edges       []EdgeSpec       `yaml:"edges"`
	Controllers []ControllerSpec `yaml:"controllers"`
	Routes      []RouteSpec      `yaml:"routes"`
	Vehicles    []VehicleSpec    `yaml:"vehicles"`
}

// JunctionSpec is a node of the network. Lat/Lon are optional; when both
// ends of an edge carry them the edge length is the great-circle distance.
type JunctionSpec struct {
	ID  string   `yaml:"id"`
	X   float64  `yaml:"x"`
	Y   float64  `yaml:"y"`
	Lat *float64 `yaml:"lat"`
	Lon *float64 `yaml:"lon"`
}

type EdgeSpec struct {
	ID     string  `yaml:"id"`
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Name   string  `yaml:"name"`
	Lanes  int     `yaml:"lanes"`
	Length float64 `yaml:"length"`
	Speed  float64 `yaml:"speed"`
}

// ControllerSpec declares a signal program. Links[i] lists the lane movements
// governed by character i of every phase state.
type ControllerSpec struct {
	ID       string       `yaml:"id"`
	Junction string       `yaml:"junction"`
	Phases   []PhaseSpec  `yaml:"phases"`
	Links    [][]LinkSpec `yaml:"links"`
}

type PhaseSpec struct {
	State    string  `yaml:"state"`
	Duration float64 `yaml:"duration"`
}

type LinkSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Via  string `yaml:"via"`
}

type RouteSpec struct {
	ID    string   `yaml:"id"`
	Edges []string `yaml:"edges"`
}

// VehicleSpec is a scheduled departure
type VehicleSpec struct {
	ID     string  `yaml:"id"`
	Route  string  `yaml:"route"`
	Type   string  `yaml:"type"`
	Depart float64 `yaml:"depart"`
}

// LoadNetwork reads and validates a network file
func LoadNetwork(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to open network %s: %w", path, err)
	}
	defer f.Close()
	return ParseNetwork(f)
}

// ParseNetwork decodes a YAML network, fills defaults and validates references
func ParseNetwork(r io.Reader) (*Network, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var n Network
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("sandbox: failed to decode network: %w", err)
	}
	if err := n.normalize(); err != nil {
		return nil, err
	}
	return &n, nil
}

func (n *Network) normalize() error {
	junctions := lo.Associate(n.Junctions, func(j JunctionSpec) (string, JunctionSpec) { return j.ID, j })
	if len(junctions) != len(n.Junctions) {
		return fmt.Errorf("sandbox: duplicate junction id")
	}

	edges := make(map[string]EdgeSpec, len(n.Edges))
	for i := range n.Edges {
		e := &n.Edges[i]
		if _, dup := edges[e.ID]; dup || e.ID == "" {
			return fmt.Errorf("sandbox: invalid or duplicate edge id %q", e.ID)
		}
		from, ok := junctions[e.From]
		if !ok {
			return fmt.Errorf("sandbox: edge %s: unknown from junction %q", e.ID, e.From)
		}
		to, ok := junctions[e.To]
		if !ok {
			return fmt.Errorf("sandbox: edge %s: unknown to junction %q", e.ID, e.To)
		}
		if e.Lanes <= 0 {
			e.Lanes = defaultLaneCount
		}
		if e.Speed <= 0 {
			e.Speed = defaultSpeed
		}
		if e.Length <= 0 {
			e.Length = math.Max(junctionDistance(from, to), minEdgeLength)
		}
		edges[e.ID] = *e
	}

	lanes := make(map[string]bool)
	for _, e := range n.Edges {
		for i := 0; i < e.Lanes; i++ {
			lanes[laneID(e.ID, i)] = true
		}
	}

	seen := make(map[string]bool, len(n.Controllers))
	for _, c := range n.Controllers {
		if seen[c.ID] || c.ID == "" {
			return fmt.Errorf("sandbox: invalid or duplicate controller id %q", c.ID)
		}
		seen[c.ID] = true
		if len(c.Phases) == 0 {
			return fmt.Errorf("sandbox: controller %s has no phases", c.ID)
		}
		for i, p := range c.Phases {
			if len(p.State) != len(c.Links) {
				return fmt.Errorf("sandbox: controller %s phase %d: state %q has %d links, want %d",
					c.ID, i, p.State, len(p.State), len(c.Links))
			}
			if p.Duration <= 0 {
				return fmt.Errorf("sandbox: controller %s phase %d: duration must be positive", c.ID, i)
			}
		}
		for i, group := range c.Links {
			for _, l := range group {
				if !lanes[l.From] || !lanes[l.To] {
					return fmt.Errorf("sandbox: controller %s link %d: unknown lane in %s -> %s", c.ID, i, l.From, l.To)
				}
			}
		}
	}

	routes := make(map[string]bool, len(n.Routes))
	for _, r := range n.Routes {
		if err := checkRoute(edges, r.Edges); err != nil {
			return fmt.Errorf("sandbox: route %s: %w", r.ID, err)
		}
		routes[r.ID] = true
	}
	for _, v := range n.Vehicles {
		if !routes[v.Route] {
			return fmt.Errorf("sandbox: vehicle %s: unknown route %q", v.ID, v.Route)
		}
	}
	return nil
}

// checkRoute requires a non-empty chain of known, consecutive edges
func checkRoute(edges map[string]EdgeSpec, route []string) error {
	if len(route) == 0 {
		return fmt.Errorf("empty route")
	}
	for i, id := range route {
		e, ok := edges[id]
		if !ok {
			return fmt.Errorf("unknown edge %q", id)
		}
		if i > 0 && edges[route[i-1]].To != e.From {
			return fmt.Errorf("edge %s does not continue from %s", id, route[i-1])
		}
	}
	return nil
}

func junctionDistance(a, b JunctionSpec) float64 {
	if a.Lat != nil && a.Lon != nil && b.Lat != nil && b.Lon != nil {
		return utils.GreatCircleMeters(*a.Lat, *a.Lon, *b.Lat, *b.Lon)
	}
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

func laneID(edgeID string, index int) string {
	return fmt.Sprintf("%s_%d", edgeID, index)
}
