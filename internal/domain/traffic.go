package domain

import "time"

// EdgeStatus is the per-step traffic projection of one road segment
type EdgeStatus struct {
	EdgeID              string   `json:"edgeID"`
	EdgeName            string   `json:"edgeName"`
	Timestamp           float64  `json:"timestamp"`
	LaneNumber          int      `json:"laneNumber"`
	Speed               float64  `json:"speed"`
	VehicleCount        int      `json:"vehicleCount"`
	VehicleIDs          []string `json:"vehicleIDs"`
	WaitingTime         float64  `json:"waitingTime"`
	Occupancy           float64  `json:"occupancy"`
	WaitingVehicleCount int      `json:"waitingVehicleCount"`
}

// SignalStatus is the per-step projection of one traffic-signal controller
type SignalStatus struct {
	ControllerID   string             `json:"tlsID"`
	JunctionID     string             `json:"junction_id"`
	JunctionName   string             `json:"junction_name"`
	Timestamp      float64            `json:"timestamp"`
	Phase          int                `json:"phase"`
	State          string             `json:"state"`
	Duration       float64            `json:"duration"`
	Connection     [][]ControlledLink `json:"connection"`
	SpendTime      float64            `json:"spendTime"`
	NextSwitchTime float64            `json:"nextSwitchTime"`
}

// Congestion labels
const (
	Congested    = "Congested"
	NonCongested = "Non-Congested"
)

// CongestionThreshold is the exclusive occupancy bound above which a group is congested
const CongestionThreshold = 0.60

// ClassifyCongestion labels an occupancy fraction
func ClassifyCongestion(occupancy float64) string {
	if occupancy > CongestionThreshold {
		return Congested
	}
	return NonCongested
}

// JunctionMetrics is the per-step directional summary of one intersection
type JunctionMetrics struct {
	JunctionID            string  `json:"junctionid"`
	Edge1VehicleCount     int     `json:"edge1_vehicle_count"`
	Edge2VehicleCount     int     `json:"edge2_vehicle_count"`
	Edge1WaitingCount     int     `json:"edge1_waiting_vehicle_count"`
	Edge2WaitingCount     int     `json:"edge2_waiting_vehicle_count"`
	Edge1Occupancy        float64 `json:"edge1_occupancy"`
	Edge2Occupancy        float64 `json:"edge2_occupancy"`
	Edge1LightState       string  `json:"edge1_light_state"`
	Edge2LightState       string  `json:"edge2_light_state"`
	NextSwitchTime        float64 `json:"nextswitchtime"`
	Edge1CongestionStatus string  `json:"edge1_congestion"`
	Edge2CongestionStatus string  `json:"edge2_congestion"`
}

// EmergencyTelemetry is the live routing state of a tracked emergency vehicle.
// Lane and signal fields are nil when the upcoming junction is not signalized.
type EmergencyTelemetry struct {
	EventID              string   `json:"eventID"`
	VehicleID            string   `json:"vehicleID"`
	CurrentEdgeID        string   `json:"currentEdgeID"`
	CurrentLaneID        *string  `json:"currentLaneID"`
	UpcomingJunctionID   *string  `json:"upcomingJunctionID"`
	NextEdgeID           *string  `json:"nextEdgeID"`
	NextLaneID           *string  `json:"nextLaneID"`
	UpcomingTlsID        *string  `json:"upcomingTlsID"`
	UpcomingTlsState     *string  `json:"upcomingTlsState"`
	UpcomingTlsCountdown *float64 `json:"upcomingTlsCountdown"`
	Position             Position `json:"position"`
	Timestamp            float64  `json:"timestamp"`
}

// Snapshot is everything collected in one loop iteration
type Snapshot struct {
	SimulationTime    float64
	Edges             map[string]EdgeStatus
	Signals           map[string]SignalStatus
	Junctions         map[string]JunctionMetrics
	EmergencyVehicles map[string]EmergencyTelemetry
	PurgedVehicles    []string
}

// NewSnapshot returns an empty snapshot for the given simulation time
func NewSnapshot(now float64) *Snapshot {
	return &Snapshot{
		SimulationTime:    now,
		Edges:             make(map[string]EdgeStatus),
		Signals:           make(map[string]SignalStatus),
		Junctions:         make(map[string]JunctionMetrics),
		EmergencyVehicles: make(map[string]EmergencyTelemetry),
	}
}

// LoopStatus reports the health of the advancement loop
type LoopStatus struct {
	Running        bool      `json:"running"`
	Connected      bool      `json:"connected"`
	Message        string    `json:"message"`
	SimulationTime float64   `json:"simulation_time"`
	Steps          uint64    `json:"steps"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot cache keys
const (
	KeySimulationTime    = "sim:simulation_time"
	KeyEdges             = "sim:edge"
	KeySignals           = "sim:tls"
	KeyJunctions         = "sim:junction"
	KeyEmergencyVehicles = "sim:emergency_vehicles"
)
