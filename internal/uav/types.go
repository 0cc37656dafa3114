// Package uav defines the data model shared by every core component:
// the per-vehicle record and the flat mission item shape MAVLink
// mission transfer and the plan parser both produce/consume.
package uav

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type MissionStatus string

const (
	MissionIdle      MissionStatus = "idle"
	MissionStarting  MissionStatus = "starting"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionStopped   MissionStatus = "stopped"
	MissionError     MissionStatus = "error"
)

// MissionPhase is a finer-grained tag than MissionStatus, surfacing the
// exact step a mission sequence is in or failed at.
type MissionPhase string

const (
	PhaseUploading     MissionPhase = "uploading"
	PhaseInProgress    MissionPhase = "in_progress"
	PhaseCompleted     MissionPhase = "completed"
	PhaseStopped       MissionPhase = "stopped"
	PhaseUploadError   MissionPhase = "upload_error"
	PhaseModeError     MissionPhase = "mode_error"
	PhaseArmError      MissionPhase = "arm_error"
	PhaseModeAutoError MissionPhase = "mode_auto_error"
	PhaseException     MissionPhase = "exception"
	PhaseTimeout       MissionPhase = "timeout"
)

// Item is a flat mission item matching MAVLink MISSION_ITEM_INT
// semantics. Params is always exactly 7 floats; Lat/Lon/Alt are
// derived and nil when the item carries no coordinates.
type Item struct {
	Seq          int
	Command      uint16
	Frame        uint8
	AutoContinue bool
	Params       [7]float32
	Lat          *float64
	Lon          *float64
	Alt          *float64
}

// Record is one UAV's complete state. The registry owns the lock;
// Record itself carries no synchronization, so every copy handed out by
// Registry.Get/SnapshotAll is safe to read without further locking.
type Record struct {
	UAVID string
	Name  string
	Port  int

	Connected        bool
	Status           Status
	LastHeartbeat    time.Time
	TelemetryEnabled bool

	Lat     float64
	Lon     float64
	Alt     float64
	Heading float64

	GroundSpeed float64

	GPSFix     int
	Satellites int

	BatteryPercent *float64
	BatteryVoltage *float64

	Mission []Item
	PlanRaw map[string]interface{}

	MissionStatus      MissionStatus
	MissionPhase       MissionPhase
	MissionTotal       int
	MissionCurrentSeq  int
	MissionProgress    float64
	LastMissionUpdate  time.Time

	// MissionCommLock is the link arbitration intent flag: when true,
	// the telemetry reader must not call recv on this UAV's Link.
	MissionCommLock bool
}

// NewRecord builds a fresh record for a newly discovered UAV: zeroed
// telemetry, nil battery, empty mission, idle mission state.
func NewRecord(uavID, name string, port int) *Record {
	return &Record{
		UAVID:             uavID,
		Name:              name,
		Port:              port,
		Connected:         true,
		Status:            StatusOnline,
		TelemetryEnabled:  true,
		LastHeartbeat:     time.Now(),
		MissionStatus:     MissionIdle,
		MissionCurrentSeq: -1,
	}
}

// Clone returns a deep-enough by-value copy: slices/maps are copied so
// callers holding a snapshot cannot mutate registry state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Mission != nil {
		cp.Mission = make([]Item, len(r.Mission))
		copy(cp.Mission, r.Mission)
	}
	if r.PlanRaw != nil {
		cp.PlanRaw = make(map[string]interface{}, len(r.PlanRaw))
		for k, v := range r.PlanRaw {
			cp.PlanRaw[k] = v
		}
	}
	if r.BatteryPercent != nil {
		v := *r.BatteryPercent
		cp.BatteryPercent = &v
	}
	if r.BatteryVoltage != nil {
		v := *r.BatteryVoltage
		cp.BatteryVoltage = &v
	}
	return &cp
}
