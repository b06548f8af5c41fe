// Package sandbox is an in-process, deterministic traffic stepper driven by a
// YAML network. It implements domain.Stepper so the coordinator can run and
// be tested without an external simulation.
package sandbox

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/pkg/utils"
)

const (
	stepLength    = 1.0
	vehicleLength = 5.0
	minGap        = 2.5
	haltingSpeed  = 0.1
	// manual states hold until the program is restored
	manualHold = 1e6

	defaultVehicleType = "DEFAULT_VEHTYPE"
)

var errClosed = errors.New("connection closed")

type edge struct {
	spec  EdgeSpec
	lanes []*lane
}

type lane struct {
	id         string
	edge       *edge
	index      int
	disallowed []string
}

func (l *lane) allows(vehicleType string) bool {
	return !lo.Contains(l.disallowed, domain.AllVehicleClasses) && !lo.Contains(l.disallowed, vehicleType)
}

type controller struct {
	spec          ControllerSpec
	phase         int
	phaseStart    float64
	phaseDuration float64
	manual        bool
	manualState   string
}

func (c *controller) state() string {
	if c.manual {
		return c.manualState
	}
	return c.spec.Phases[c.phase].State
}

func (c *controller) advance(now float64) {
	if c.manual {
		if now >= c.phaseStart+c.phaseDuration {
			c.phaseStart = now
		}
		return
	}
	for now >= c.phaseStart+c.phaseDuration {
		c.phaseStart += c.phaseDuration
		c.phase = (c.phase + 1) % len(c.spec.Phases)
		c.phaseDuration = c.spec.Phases[c.phase].Duration
	}
}

type vehicle struct {
	id      string
	typeID  string
	routeID string
	route   []string
	edgeIdx int
	lane    *lane
	pos     float64
	speed   float64
	forced  *float64
	waiting float64
}

func (v *vehicle) edgeID() string { return v.route[v.edgeIdx] }

// movement is the controller link that governs passing from one edge to the next
type movement struct {
	controller *controller
	index      int
}

// Stepper implements domain.Stepper in memory. mu guards all state; callers
// are still expected to serialize through the gate.
type Stepper struct {
	mu     sync.Mutex
	closed bool
	time   float64

	junctions   map[string]JunctionSpec
	junctionIDs []string
	edges       map[string]*edge
	edgeIDs     []string
	lanes       map[string]*lane
	laneIDs     []string
	controllers map[string]*controller
	tlsIDs      []string
	movements   map[[2]string]movement

	routes   map[string][]string
	vehicles map[string]*vehicle
	order    []string
	pending  []VehicleSpec
}

// New builds a stepper at time 0; vehicles departing at or before 0 are inserted immediately
func New(n *Network) *Stepper {
	s := &Stepper{
		junctions:   make(map[string]JunctionSpec, len(n.Junctions)),
		edges:       make(map[string]*edge, len(n.Edges)),
		lanes:       make(map[string]*lane),
		controllers: make(map[string]*controller, len(n.Controllers)),
		movements:   make(map[[2]string]movement),
		routes:      make(map[string][]string, len(n.Routes)),
		vehicles:    make(map[string]*vehicle),
	}

	for _, j := range n.Junctions {
		s.junctions[j.ID] = j
		s.junctionIDs = append(s.junctionIDs, j.ID)
	}
	for _, spec := range n.Edges {
		e := &edge{spec: spec}
		for i := 0; i < spec.Lanes; i++ {
			l := &lane{id: laneID(spec.ID, i), edge: e, index: i}
			e.lanes = append(e.lanes, l)
			s.lanes[l.id] = l
			s.laneIDs = append(s.laneIDs, l.id)
		}
		s.edges[spec.ID] = e
		s.edgeIDs = append(s.edgeIDs, spec.ID)
	}
	for _, spec := range n.Controllers {
		c := &controller{spec: spec, phaseDuration: spec.Phases[0].Duration}
		s.controllers[spec.ID] = c
		s.tlsIDs = append(s.tlsIDs, spec.ID)
		for i, group := range spec.Links {
			for _, l := range group {
				key := [2]string{domain.LaneEdge(l.From), domain.LaneEdge(l.To)}
				if _, ok := s.movements[key]; !ok {
					s.movements[key] = movement{controller: c, index: i}
				}
			}
		}
	}
	for _, r := range n.Routes {
		s.routes[r.ID] = append([]string(nil), r.Edges...)
	}

	s.pending = append([]VehicleSpec(nil), n.Vehicles...)
	sort.SliceStable(s.pending, func(i, j int) bool { return s.pending[i].Depart < s.pending[j].Depart })
	s.insertDepartures()
	return s
}

// Open loads a network file and builds a stepper on it
func Open(path string) (*Stepper, error) {
	n, err := LoadNetwork(path)
	if err != nil {
		return nil, err
	}
	s := New(n)
	log.Printf("[Sandbox] Loaded network %s: %d junctions, %d edges, %d controllers, %d scheduled vehicles",
		path, len(n.Junctions), len(n.Edges), len(n.Controllers), len(n.Vehicles))
	return s, nil
}

func (s *Stepper) lock(op string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.StepperFault(op, errClosed)
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("sandbox: %s '%s': %w", kind, id, domain.ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("sandbox: %w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// Step advances the clock by one second, cycles the signal programs, moves
// the vehicles and inserts due departures
func (s *Stepper) Step() error {
	if err := s.lock("step"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.time += stepLength
	for _, id := range s.tlsIDs {
		s.controllers[id].advance(s.time)
	}
	s.moveVehicles()
	s.insertDepartures()
	return nil
}

func (s *Stepper) insertDepartures() {
	for len(s.pending) > 0 && s.pending[0].Depart <= s.time {
		spec := s.pending[0]
		s.pending = s.pending[1:]
		if _, exists := s.vehicles[spec.ID]; exists {
			log.Printf("[Sandbox] Skipping departure of %s: id already in use", spec.ID)
			continue
		}
		s.insert(spec.ID, spec.Route, spec.Type)
	}
}

func (s *Stepper) insert(vehicleID, routeID, typeID string) {
	if typeID == "" {
		typeID = defaultVehicleType
	}
	route := s.routes[routeID]
	first := s.edges[route[0]]
	v := &vehicle{
		id:      vehicleID,
		typeID:  typeID,
		routeID: routeID,
		route:   route,
		lane:    s.openLane(first, typeID),
	}
	s.vehicles[vehicleID] = v
	s.order = append(s.order, vehicleID)
}

// openLane returns the lowest lane of e that admits the type, or lane 0
func (s *Stepper) openLane(e *edge, typeID string) *lane {
	for _, l := range e.lanes {
		if l.allows(typeID) {
			return l
		}
	}
	return e.lanes[0]
}

// moveVehicles processes each lane front to back so a follower sees its
// leader's new position
func (s *Stepper) moveVehicles() {
	byLane := lo.GroupBy(lo.Values(s.vehicles), func(v *vehicle) string { return v.lane.id })
	laneKeys := lo.Keys(byLane)
	sort.Strings(laneKeys)

	var arrived []string
	for _, key := range laneKeys {
		queue := byLane[key]
		sort.Slice(queue, func(i, j int) bool {
			if queue[i].pos != queue[j].pos {
				return queue[i].pos > queue[j].pos
			}
			return queue[i].id < queue[j].id
		})

		var leader *vehicle
		for _, v := range queue {
			if s.moveVehicle(v, leader) {
				arrived = append(arrived, v.id)
				continue
			}
			if v.lane.id == key {
				leader = v
			}
		}
	}

	for _, id := range arrived {
		s.drop(id)
	}
}

// moveVehicle advances v by one step and reports whether it left the network
func (s *Stepper) moveVehicle(v *vehicle, leader *vehicle) bool {
	e := s.edges[v.edgeID()]
	desired := e.spec.Speed
	if v.forced != nil {
		desired = *v.forced
	}

	target := v.pos + desired*stepLength
	if leader != nil {
		target = min(target, leader.pos-vehicleLength-minGap)
	}
	target = max(target, v.pos)

	travelled := target - v.pos
	if target >= e.spec.Length {
		if v.edgeIdx == len(v.route)-1 {
			return true
		}
		next := s.edges[v.route[v.edgeIdx+1]]
		if s.mayEnter(e, next, v) {
			overflow := utils.Clamp(target-e.spec.Length, 0, next.spec.Length)
			v.edgeIdx++
			v.lane = s.openLane(next, v.typeID)
			v.pos = overflow
		} else {
			travelled = e.spec.Length - v.pos
			v.pos = e.spec.Length
		}
	} else {
		v.pos = target
	}

	v.speed = travelled / stepLength
	if v.speed < haltingSpeed {
		v.waiting += stepLength
	} else {
		v.waiting = 0
	}
	return false
}

// mayEnter checks the signal at the end of from, an open lane on to and room at its start
func (s *Stepper) mayEnter(from, to *edge, v *vehicle) bool {
	if m, ok := s.movements[[2]string{from.spec.ID, to.spec.ID}]; ok {
		c := m.controller.state()[m.index]
		if c != 'g' && c != 'G' {
			return false
		}
	}
	l := s.openLane(to, v.typeID)
	if !l.allows(v.typeID) {
		return false
	}
	for _, other := range s.vehicles {
		if other != v && other.lane == l && other.pos < vehicleLength+minGap {
			return false
		}
	}
	return true
}

func (s *Stepper) drop(vehicleID string) {
	delete(s.vehicles, vehicleID)
	s.order = lo.Without(s.order, vehicleID)
}

// Time returns the simulation clock in seconds
func (s *Stepper) Time() (float64, error) {
	if err := s.lock("time"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.time, nil
}

// Close makes every later call fail with a stepper fault
func (s *Stepper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Vehicles

func (s *Stepper) vehicle(op, id string) (*vehicle, error) {
	if err := s.lock(op); err != nil {
		return nil, err
	}
	v, ok := s.vehicles[id]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("vehicle", id)
	}
	return v, nil
}

func (s *Stepper) VehicleIDs() ([]string, error) {
	if err := s.lock("vehicle ids"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *Stepper) VehicleSpeed(vehicleID string) (float64, error) {
	v, err := s.vehicle("vehicle speed", vehicleID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return v.speed, nil
}

// SetVehicleSpeed pins the speed of a vehicle; a negative speed releases it
func (s *Stepper) SetVehicleSpeed(vehicleID string, speed float64) error {
	v, err := s.vehicle("set vehicle speed", vehicleID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if speed < 0 {
		v.forced = nil
		return nil
	}
	v.forced = lo.ToPtr(speed)
	return nil
}

func (s *Stepper) VehicleLane(vehicleID string) (string, error) {
	v, err := s.vehicle("vehicle lane", vehicleID)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	return v.lane.id, nil
}

func (s *Stepper) VehicleRoad(vehicleID string) (string, error) {
	v, err := s.vehicle("vehicle road", vehicleID)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	return v.edgeID(), nil
}

// VehiclePosition interpolates between the edge's junction coordinates
func (s *Stepper) VehiclePosition(vehicleID string) (domain.Position, error) {
	v, err := s.vehicle("vehicle position", vehicleID)
	if err != nil {
		return domain.Position{}, err
	}
	defer s.mu.Unlock()
	e := s.edges[v.edgeID()]
	from, to := s.junctions[e.spec.From], s.junctions[e.spec.To]
	x, y := utils.Interpolate(from.X, from.Y, to.X, to.Y, v.pos/e.spec.Length)
	return domain.Position{X: x, Y: y}, nil
}

// VehicleLeader finds the closest vehicle ahead on the same lane
func (s *Stepper) VehicleLeader(vehicleID string) (string, float64, bool, error) {
	v, err := s.vehicle("vehicle leader", vehicleID)
	if err != nil {
		return "", 0, false, err
	}
	defer s.mu.Unlock()

	var best *vehicle
	for _, other := range s.vehicles {
		if other == v || other.lane != v.lane || other.pos <= v.pos {
			continue
		}
		if best == nil || other.pos < best.pos || (other.pos == best.pos && other.id < best.id) {
			best = other
		}
	}
	if best == nil {
		return "", 0, false, nil
	}
	return best.id, max(best.pos-v.pos-vehicleLength, 0), true, nil
}

// AddRoute registers a route of consecutive edges
func (s *Stepper) AddRoute(routeID string, edges []string) error {
	if err := s.lock("add route"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, exists := s.routes[routeID]; exists {
		return invalid("route '%s' already exists", routeID)
	}
	specs := make(map[string]EdgeSpec, len(s.edges))
	for id, e := range s.edges {
		specs[id] = e.spec
	}
	if err := checkRoute(specs, edges); err != nil {
		return invalid("route '%s': %v", routeID, err)
	}
	s.routes[routeID] = append([]string(nil), edges...)
	return nil
}

// AddVehicle inserts a vehicle at the start of its route immediately
func (s *Stepper) AddVehicle(vehicleID, routeID, typeID string) error {
	if err := s.lock("add vehicle"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, exists := s.vehicles[vehicleID]; exists {
		return invalid("vehicle '%s' already exists", vehicleID)
	}
	if _, ok := s.routes[routeID]; !ok {
		return notFound("route", routeID)
	}
	s.insert(vehicleID, routeID, typeID)
	return nil
}

func (s *Stepper) RemoveVehicle(vehicleID string) error {
	if _, err := s.vehicle("remove vehicle", vehicleID); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.drop(vehicleID)
	return nil
}

// Lanes

func (s *Stepper) LaneIDs() ([]string, error) {
	if err := s.lock("lane ids"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]string(nil), s.laneIDs...), nil
}

// SetLaneDisallowed replaces the disallowed vehicle classes; nil reopens the lane
func (s *Stepper) SetLaneDisallowed(laneID string, classes []string) error {
	if err := s.lock("set lane disallowed"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	l, ok := s.lanes[laneID]
	if !ok {
		return notFound("lane", laneID)
	}
	l.disallowed = append([]string(nil), classes...)
	return nil
}

// Edges

func (s *Stepper) edge(op, id string) (*edge, error) {
	if err := s.lock(op); err != nil {
		return nil, err
	}
	e, ok := s.edges[id]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("edge", id)
	}
	return e, nil
}

func (s *Stepper) onEdge(edgeID string) []*vehicle {
	var out []*vehicle
	for _, id := range s.order {
		if v := s.vehicles[id]; v.edgeID() == edgeID {
			out = append(out, v)
		}
	}
	return out
}

func (s *Stepper) EdgeIDs() ([]string, error) {
	if err := s.lock("edge ids"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]string(nil), s.edgeIDs...), nil
}

func (s *Stepper) EdgeStreetName(edgeID string) (string, error) {
	e, err := s.edge("edge street name", edgeID)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	return e.spec.Name, nil
}

func (s *Stepper) EdgeLaneCount(edgeID string) (int, error) {
	e, err := s.edge("edge lane count", edgeID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return len(e.lanes), nil
}

// EdgeMeanSpeed is the speed limit when the edge is empty
func (s *Stepper) EdgeMeanSpeed(edgeID string) (float64, error) {
	e, err := s.edge("edge mean speed", edgeID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	vs := s.onEdge(edgeID)
	if len(vs) == 0 {
		return e.spec.Speed, nil
	}
	return lo.SumBy(vs, func(v *vehicle) float64 { return v.speed }) / float64(len(vs)), nil
}

func (s *Stepper) EdgeVehicleCount(edgeID string) (int, error) {
	if _, err := s.edge("edge vehicle count", edgeID); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return len(s.onEdge(edgeID)), nil
}

func (s *Stepper) EdgeVehicleIDs(edgeID string) ([]string, error) {
	if _, err := s.edge("edge vehicle ids", edgeID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return lo.Map(s.onEdge(edgeID), func(v *vehicle, _ int) string { return v.id }), nil
}

func (s *Stepper) EdgeHaltingCount(edgeID string) (int, error) {
	if _, err := s.edge("edge halting count", edgeID); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return lo.CountBy(s.onEdge(edgeID), func(v *vehicle) bool { return v.speed < haltingSpeed }), nil
}

// EdgeOccupancy is the fraction of the edge's lane length covered by vehicles
func (s *Stepper) EdgeOccupancy(edgeID string) (float64, error) {
	e, err := s.edge("edge occupancy", edgeID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	covered := float64(len(s.onEdge(edgeID))) * vehicleLength
	return utils.Clamp(covered/(e.spec.Length*float64(len(e.lanes))), 0, 1), nil
}

// EdgeWaitingTime sums the current waiting time of the vehicles on the edge
func (s *Stepper) EdgeWaitingTime(edgeID string) (float64, error) {
	if _, err := s.edge("edge waiting time", edgeID); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return lo.SumBy(s.onEdge(edgeID), func(v *vehicle) float64 { return v.waiting }), nil
}

// Controllers

func (s *Stepper) controller(op, id string) (*controller, error) {
	if err := s.lock(op); err != nil {
		return nil, err
	}
	c, ok := s.controllers[id]
	if !ok {
		s.mu.Unlock()
		return nil, notFound("traffic light", id)
	}
	return c, nil
}

func (s *Stepper) ControllerIDs() ([]string, error) {
	if err := s.lock("controller ids"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]string(nil), s.tlsIDs...), nil
}

func (s *Stepper) ControllerState(controllerID string) (string, error) {
	c, err := s.controller("controller state", controllerID)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	return c.state(), nil
}

// SetControllerState switches the controller to a manual state that holds
// until SetControllerProgram restores the program
func (s *Stepper) SetControllerState(controllerID, state string) error {
	c, err := s.controller("set controller state", controllerID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if len(state) != len(c.spec.Links) {
		return invalid("state %q has %d links, controller %s has %d", state, len(state), controllerID, len(c.spec.Links))
	}
	if i := strings.IndexFunc(state, func(r rune) bool { return !strings.ContainsRune("rRyYgGsuoO", r) }); i >= 0 {
		return invalid("state %q has an unknown signal at %d", state, i)
	}
	c.manual = true
	c.manualState = state
	c.phaseStart = s.time
	c.phaseDuration = manualHold
	return nil
}

func (s *Stepper) ControllerPhase(controllerID string) (int, error) {
	c, err := s.controller("controller phase", controllerID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	if c.manual {
		return 0, nil
	}
	return c.phase, nil
}

func (s *Stepper) ControllerPhaseDuration(controllerID string) (float64, error) {
	c, err := s.controller("controller phase duration", controllerID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return c.phaseDuration, nil
}

// SetControllerPhaseDuration sets the remaining time of the current phase
func (s *Stepper) SetControllerPhaseDuration(controllerID string, duration float64) error {
	c, err := s.controller("set controller phase duration", controllerID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if duration < 0 {
		return invalid("phase duration must not be negative, got %v", duration)
	}
	c.phaseStart = s.time
	c.phaseDuration = duration
	return nil
}

// SetControllerProgram restores the declared program at its current phase
func (s *Stepper) SetControllerProgram(controllerID, programID string) error {
	c, err := s.controller("set controller program", controllerID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if programID != domain.DefaultProgramID {
		return notFound("program", programID)
	}
	c.manual = false
	c.manualState = ""
	c.phaseStart = s.time
	c.phaseDuration = c.spec.Phases[c.phase].Duration
	return nil
}

// ControllerNextSwitch returns the absolute time of the next phase change
func (s *Stepper) ControllerNextSwitch(controllerID string) (float64, error) {
	c, err := s.controller("controller next switch", controllerID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return c.phaseStart + c.phaseDuration, nil
}

func (s *Stepper) ControllerSpentDuration(controllerID string) (float64, error) {
	c, err := s.controller("controller spent duration", controllerID)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.time - c.phaseStart, nil
}

func (s *Stepper) ControllerLinks(controllerID string) ([][]domain.ControlledLink, error) {
	c, err := s.controller("controller links", controllerID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	out := make([][]domain.ControlledLink, len(c.spec.Links))
	for i, group := range c.spec.Links {
		out[i] = lo.Map(group, func(l LinkSpec, _ int) domain.ControlledLink {
			return domain.ControlledLink{FromLane: l.From, ToLane: l.To, ViaLane: l.Via}
		})
	}
	return out, nil
}

func (s *Stepper) ControllerPhases(controllerID string) ([]string, error) {
	c, err := s.controller("controller phases", controllerID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return lo.Map(c.spec.Phases, func(p PhaseSpec, _ int) string { return p.State }), nil
}

// Junctions

func (s *Stepper) JunctionIDs() ([]string, error) {
	if err := s.lock("junction ids"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return append([]string(nil), s.junctionIDs...), nil
}

func (s *Stepper) junctionEdges(op, junctionID string, incoming bool) ([]string, error) {
	if err := s.lock(op); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if _, ok := s.junctions[junctionID]; !ok {
		return nil, notFound("junction", junctionID)
	}
	return lo.Filter(s.edgeIDs, func(id string, _ int) bool {
		e := s.edges[id].spec
		if incoming {
			return e.To == junctionID
		}
		return e.From == junctionID
	}), nil
}

func (s *Stepper) JunctionIncoming(junctionID string) ([]string, error) {
	return s.junctionEdges("junction incoming", junctionID, true)
}

func (s *Stepper) JunctionOutgoing(junctionID string) ([]string, error) {
	return s.junctionEdges("junction outgoing", junctionID, false)
}

var _ domain.Stepper = (*Stepper)(nil)
