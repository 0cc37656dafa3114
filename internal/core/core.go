// Package core exposes the transport-agnostic operations an HTTP/JSON
// facade calls: list/snapshot UAVs, mission get/set, plan upload,
// mission start/stop, disconnect. It wires the registry, discovery,
// and the heartbeat monitor together.
package core

import (
	"encoding/json"
	"time"

	"github.com/Legell/UAV-System/internal/discovery"
	"github.com/Legell/UAV-System/internal/flightdir"
	"github.com/Legell/UAV-System/internal/gcserr"
	"github.com/Legell/UAV-System/internal/heartbeatmon"
	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/missionplan"
	"github.com/Legell/UAV-System/internal/missionxfer"
	"github.com/Legell/UAV-System/internal/registry"
	"github.com/Legell/UAV-System/internal/uav"
)

const defaultTakeoffAltitude = 10.0

// Core holds the shared dependencies behind every facade operation.
type Core struct {
	reg          *registry.Registry
	discovery    *discovery.Discovery
	monitor      *heartbeatmon.Monitor
	log          *logging.Logger
	xferTimeouts missionxfer.Timeouts
	dirTimeouts  flightdir.Timeouts
}

// Timeouts carries the mission-transfer and flight-director timeout
// table a Core should use, normally populated from config.Config.
type Timeouts struct {
	Request time.Duration
	Ack     time.Duration
	Arm     time.Duration
	Mode    time.Duration
}

func New(reg *registry.Registry, disc *discovery.Discovery, mon *heartbeatmon.Monitor, timeouts Timeouts) *Core {
	return &Core{
		reg:       reg,
		discovery: disc,
		monitor:   mon,
		log:       logging.New("core"),
		xferTimeouts: missionxfer.Timeouts{
			Request: timeouts.Request,
			Ack:     timeouts.Ack,
		},
		dirTimeouts: flightdir.Timeouts{
			Arm:  timeouts.Arm,
			Mode: timeouts.Mode,
		},
	}
}

// DiscoverOnce runs one discovery pass; callers may retrigger.
func (c *Core) DiscoverOnce() []string {
	return c.discovery.Run()
}

// ListUAVs returns every known record, sorted by port.
func (c *Core) ListUAVs() []*uav.Record {
	return c.reg.SnapshotAll()
}

// GetMission returns the cached mission items for uavID.
func (c *Core) GetMission(uavID string) ([]uav.Item, error) {
	rec, err := c.reg.Get(uavID)
	if err != nil {
		return nil, err
	}
	return rec.Mission, nil
}

// SetMission stores items in the record verbatim, so GetMission
// round-trips them unchanged.
func (c *Core) SetMission(uavID string, items []uav.Item) error {
	_, err := c.reg.Update(uavID, func(rec *uav.Record) {
		rec.Mission = items
	})
	return err
}

// UploadPlan parses plan JSON, caches it, and returns items + waypoints.
func (c *Core) UploadPlan(uavID string, planJSON []byte) (*missionplan.Result, error) {
	if !c.reg.Exists(uavID) {
		return nil, gcserr.New(gcserr.KindNotFound, uavID, "unknown uav_id")
	}

	result, err := missionplan.Parse(planJSON)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(planJSON, &raw); err != nil {
		return nil, gcserr.Wrap(gcserr.KindParseError, uavID, err, "malformed .plan JSON")
	}

	rec, err := c.reg.Update(uavID, func(rec *uav.Record) {
		rec.Mission = result.Items
		rec.PlanRaw = raw
	})
	if err != nil {
		return nil, err
	}

	// Prepend the UAV's current position to the displayed waypoints
	// when it's non-zero and distinct from the first waypoint.
	if (rec.Lat != 0 || rec.Lon != 0) && (len(result.Waypoints) == 0 || result.Waypoints[0] != missionplan.Waypoint{rec.Lat, rec.Lon}) {
		result.Waypoints = append([]missionplan.Waypoint{{rec.Lat, rec.Lon}}, result.Waypoints...)
	}

	return result, nil
}

// StartMission uploads the cached mission and runs the arm/mode/start
// sequence in the background, holding the UAV's mission_comm_lock for
// the duration.
func (c *Core) StartMission(uavID string, takeoffAltitude float64) error {
	if takeoffAltitude <= 0 {
		takeoffAltitude = defaultTakeoffAltitude
	}

	rec, err := c.reg.Get(uavID)
	if err != nil {
		return err
	}
	if rec.MissionStatus == uav.MissionStarting || rec.MissionStatus == uav.MissionRunning {
		return gcserr.New(gcserr.KindMissionInProgress, uavID, "mission already %s", rec.MissionStatus)
	}
	if len(rec.Mission) == 0 {
		return gcserr.New(gcserr.KindMissionEmpty, uavID, "no cached plan to start")
	}

	if _, err := c.reg.Update(uavID, func(r *uav.Record) {
		r.MissionStatus = uav.MissionStarting
		r.MissionPhase = uav.PhaseUploading
		r.MissionTotal = len(r.Mission)
		r.MissionCurrentSeq = -1
	}); err != nil {
		return err
	}

	c.log.Infof("%s: starting mission, takeoff altitude %.1f m", uavID, takeoffAltitude)
	go c.runMissionSequence(uavID)
	return nil
}

func (c *Core) runMissionSequence(uavID string) {
	release, err := c.reg.BeginExclusive(uavID)
	if err != nil {
		c.log.Warnf("%s: begin exclusive: %v", uavID, err)
		return
	}
	defer release()

	link, err := c.reg.Link(uavID)
	if err != nil {
		c.failMission(uavID, uav.PhaseException)
		return
	}

	rec, err := c.reg.Get(uavID)
	if err != nil {
		return
	}

	// A valid plannedHomePosition in the cached plan becomes the seq-0
	// item, and mission_total counts it.
	items := rec.Mission
	if rec.PlanRaw != nil {
		lat, lon, alt := missionplan.HomeFromRaw(rec.PlanRaw)
		items = missionxfer.PrependHome(items, lat, lon, alt)
	}
	_, _ = c.reg.Update(uavID, func(r *uav.Record) {
		r.MissionTotal = len(items)
	})

	phase, err := missionxfer.Upload(link, items, c.xferTimeouts, func(seq, total int) {
		_, _ = c.reg.Update(uavID, func(r *uav.Record) {
			r.MissionCurrentSeq = seq - 1
			r.MissionTotal = total
			r.LastMissionUpdate = time.Now()
		})
	})
	if err != nil {
		c.log.Warnf("%s: mission upload failed: %v", uavID, err)
		c.failMission(uavID, phase)
		return
	}

	phase, err = flightdir.Run(link, c.dirTimeouts)
	if err != nil {
		c.log.Warnf("%s: flight director failed: %v", uavID, err)
		c.failMission(uavID, phase)
		return
	}

	_, _ = c.reg.Update(uavID, func(r *uav.Record) {
		r.MissionStatus = uav.MissionRunning
		r.MissionPhase = uav.PhaseInProgress
	})
}

func (c *Core) failMission(uavID string, phase uav.MissionPhase) {
	_, _ = c.reg.Update(uavID, func(r *uav.Record) {
		r.MissionStatus = uav.MissionError
		r.MissionPhase = phase
	})
}

// StopMission halts the running mission, overriding any non-stopped
// terminal state. Once stopped, late MISSION_CURRENT messages no longer
// move the record to completed.
func (c *Core) StopMission(uavID string) error {
	link, err := c.reg.Link(uavID)
	if err != nil {
		return err
	}
	if err := flightdir.StopMission(link); err != nil {
		return gcserr.Wrap(gcserr.KindTransportError, uavID, err, "stop_mission send failed")
	}
	_, err = c.reg.Update(uavID, func(r *uav.Record) {
		r.MissionStatus = uav.MissionStopped
		r.MissionPhase = uav.PhaseStopped
	})
	return err
}

// Disconnect closes the Link and marks the record disconnected. The
// record is retained with connected=false; only an explicit registry
// Remove deletes it.
func (c *Core) Disconnect(uavID string) error {
	link, err := c.reg.Link(uavID)
	if err == nil {
		_ = link.Close()
	}
	_, err = c.reg.Update(uavID, func(r *uav.Record) {
		r.Connected = false
		r.Status = uav.StatusOffline
	})
	if err != nil {
		return err
	}
	c.reg.RemoveLink(uavID)
	return nil
}

// SetTelemetryEnabled pauses or resumes the Telemetry Reader for uavID.
// The reader observes the flag at its next loop boundary, the same way
// it observes mission_comm_lock.
func (c *Core) SetTelemetryEnabled(uavID string, enabled bool) error {
	_, err := c.reg.Update(uavID, func(r *uav.Record) {
		r.TelemetryEnabled = enabled
	})
	return err
}

// Refresh returns a registry snapshot without rescanning.
func (c *Core) Refresh() []*uav.Record {
	return c.reg.SnapshotAll()
}
