package service

import (
	"log"
	"sort"

	"github.com/samber/lo"

	"github.com/smartcity/trafficcore/internal/domain"
)

// TrackActiveEmergencyVehicles computes live telemetry for every tracked
// emergency vehicle. Vehicles that left the simulation or deviated from
// their route stop being tracked and are returned in purge, once.
// Signal state and countdown come from signals, never from the stepper.
func (m *EventManager) TrackActiveEmergencyVehicles(
	now float64,
	signals map[string]domain.SignalStatus,
	junctionToController map[string]string,
) (telemetry map[string]domain.EmergencyTelemetry, purge []string) {
	m.mu.Lock()
	tracks := make([]domain.EmergencyVehicleTrack, 0, len(m.tracks))
	for _, t := range m.tracks {
		tracks = append(tracks, *t)
	}
	m.mu.Unlock()
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].VehicleID < tracks[j].VehicleID })

	telemetry = make(map[string]domain.EmergencyTelemetry, len(tracks))
	seen := make(map[string]int, len(tracks))
	for _, track := range tracks {
		data, idx, status := m.trackVehicle(track, now, signals, junctionToController)
		switch status {
		case trackPurge:
			purge = append(purge, track.VehicleID)
		case trackOK:
			telemetry[track.VehicleID] = data
			seen[track.VehicleID] = idx
		}
	}

	m.mu.Lock()
	for _, id := range purge {
		delete(m.tracks, id)
	}
	for id, idx := range seen {
		if t, ok := m.tracks[id]; ok {
			data := telemetry[id]
			t.RouteIndex = idx
			t.Telemetry = &data
		}
	}
	m.mu.Unlock()

	for _, id := range purge {
		log.Printf("[Events] Emergency vehicle %s stopped being tracked", id)
	}
	return telemetry, purge
}

type trackStatus int

const (
	trackOK trackStatus = iota
	// trackSkip means the vehicle is inside a junction this step
	trackSkip
	trackPurge
)

func (m *EventManager) trackVehicle(
	track domain.EmergencyVehicleTrack,
	now float64,
	signals map[string]domain.SignalStatus,
	junctionToController map[string]string,
) (domain.EmergencyTelemetry, int, trackStatus) {
	road, err := m.stepper.VehicleRoad(track.VehicleID)
	if err != nil {
		return domain.EmergencyTelemetry{}, 0, trackPurge
	}
	if road == "" || isInternal(road) {
		return domain.EmergencyTelemetry{}, 0, trackSkip
	}

	idx := routeIndex(track.Route, road, track.RouteIndex)
	if idx < 0 {
		log.Printf("[Events] Emergency vehicle %s left its route on edge %s", track.VehicleID, road)
		return domain.EmergencyTelemetry{}, 0, trackPurge
	}

	pos, err := m.stepper.VehiclePosition(track.VehicleID)
	if err != nil {
		return domain.EmergencyTelemetry{}, 0, trackPurge
	}

	data := domain.EmergencyTelemetry{
		EventID:       track.EventID,
		VehicleID:     track.VehicleID,
		CurrentEdgeID: road,
		Position:      pos,
		Timestamp:     now,
	}

	var nextEdge string
	if idx+1 < len(track.Route) {
		nextEdge = track.Route[idx+1]
		data.NextEdgeID = lo.ToPtr(nextEdge)
	}

	junction, ok := m.upcomingJunction(track, idx, road)
	if !ok {
		return data, idx, trackOK
	}
	data.UpcomingJunctionID = lo.ToPtr(junction)
	if !track.IsSignalized(junction) {
		return data, idx, trackOK
	}

	lane, err := m.stepper.VehicleLane(track.VehicleID)
	if err == nil && lane != "" {
		data.CurrentLaneID = lo.ToPtr(lane)
	}

	controllerID, ok := junctionToController[junction]
	if !ok {
		return data, idx, trackOK
	}
	data.UpcomingTlsID = lo.ToPtr(controllerID)

	signal, ok := signals[controllerID]
	if !ok {
		return data, idx, trackOK
	}
	data.UpcomingTlsState = lo.ToPtr(signal.State)
	data.UpcomingTlsCountdown = lo.ToPtr(signal.NextSwitchTime)
	if nextEdge != "" {
		if next, ok := nextLane(signal.Connection, lane, road, nextEdge); ok {
			data.NextLaneID = lo.ToPtr(next)
		}
	}
	return data, idx, trackOK
}

// routeIndex finds road in route at or after from; -1 when absent
func routeIndex(route []string, road string, from int) int {
	if from < 0 || from >= len(route) {
		from = 0
	}
	for i := from; i < len(route); i++ {
		if route[i] == road {
			return i
		}
	}
	return -1
}

// upcomingJunction is positional when the junction list lines up with the
// route; otherwise the first listed junction the current edge leads into.
func (m *EventManager) upcomingJunction(track domain.EmergencyVehicleTrack, idx int, road string) (string, bool) {
	if len(track.JunctionsOnPath) == 0 || idx+1 >= len(track.Route) {
		return "", false
	}
	if len(track.JunctionsOnPath) == len(track.Route)-1 {
		return track.JunctionsOnPath[idx], true
	}
	for _, j := range track.JunctionsOnPath {
		incoming, err := m.stepper.JunctionIncoming(j)
		if err != nil {
			continue
		}
		if lo.Contains(incoming, road) {
			return j, true
		}
	}
	return "", false
}

// nextLane picks the lane on nextEdge reached through the controller's links,
// preferring a link that starts on the vehicle's current lane.
func nextLane(links [][]domain.ControlledLink, currentLane, road, nextEdge string) (string, bool) {
	var fallback string
	for _, group := range links {
		for _, l := range group {
			if domain.LaneEdge(l.ToLane) != nextEdge {
				continue
			}
			if currentLane != "" && l.FromLane == currentLane {
				return l.ToLane, true
			}
			if fallback == "" && domain.LaneEdge(l.FromLane) == road {
				fallback = l.ToLane
			}
		}
	}
	return fallback, fallback != ""
}
