// Package telemetry runs the per-UAV telemetry reader: a cooperative
// loop that recvs from the Link and updates the registry record,
// yielding while the record's mission_comm_lock flag is held so a
// mission sequence has the Link's recv side to itself.
package telemetry

import (
	"math"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/registry"
	"github.com/Legell/UAV-System/internal/uav"
)

const (
	pollIdle    = 50 * time.Millisecond
	recvTimeout = 1 * time.Second
	errorSleep  = 1 * time.Second
)

// Reader drives one UAV's telemetry loop until its record's
// connected flag goes false.
type Reader struct {
	uavID string
	reg   *registry.Registry
	log   *logging.Logger
}

func NewReader(uavID string, reg *registry.Registry) *Reader {
	return &Reader{uavID: uavID, reg: reg, log: logging.New("telemetry[" + uavID + "]")}
}

type action int

const (
	actionExit action = iota
	actionYield
	actionRecv
)

// next decides the loop step from a record snapshot. Recv is only ever
// reached through actionRecv, so a held mission_comm_lock (or disabled
// telemetry) keeps the reader off the Link entirely.
func (r *Reader) next() action {
	rec, err := r.reg.Get(r.uavID)
	if err != nil || !rec.Connected {
		return actionExit
	}
	if rec.MissionCommLock || !rec.TelemetryEnabled {
		return actionYield
	}
	return actionRecv
}

// Run loops until the record's connected flag goes false; call it in
// its own goroutine. A dispatch error marks the UAV offline and the
// loop retries after a pause; a missing Link only makes it wait. The
// reader never tears down the Link.
func (r *Reader) Run() {
	for {
		switch r.next() {
		case actionExit:
			return
		case actionYield:
			time.Sleep(pollIdle)
			continue
		}

		link, err := r.reg.Link(r.uavID)
		if err != nil {
			time.Sleep(pollIdle)
			continue
		}

		msg := link.Recv(recvTimeout)
		if msg == nil {
			continue
		}

		if err := r.dispatch(msg); err != nil {
			r.log.Warnf("dispatch error: %v", err)
			_, _ = r.reg.Update(r.uavID, func(rec *uav.Record) {
				rec.Status = uav.StatusOffline
			})
			time.Sleep(errorSleep)
		}
	}
}

func (r *Reader) dispatch(msg interface{}) error {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
			rec.LastHeartbeat = time.Now()
			rec.Status = uav.StatusOnline
		})
		return err

	case *common.MessageGlobalPositionInt:
		_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
			rec.Lat = float64(m.Lat) / 1e7
			rec.Lon = float64(m.Lon) / 1e7
			rec.Alt = float64(m.RelativeAlt) / 1000
			rec.Heading = float64(m.Hdg) / 100
		})
		return err

	case *common.MessageVfrHud:
		_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
			rec.GroundSpeed = float64(m.Groundspeed)
		})
		return err

	case *common.MessageGpsRawInt:
		_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
			rec.GPSFix = int(m.FixType)
			rec.Satellites = int(m.SatellitesVisible)
		})
		return err

	case *common.MessageSysStatus:
		_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
			if int16(m.BatteryRemaining) >= 0 {
				pct := float64(m.BatteryRemaining)
				rec.BatteryPercent = &pct
			}
			if m.VoltageBattery > 0 {
				v := float64(m.VoltageBattery) / 1000
				rec.BatteryVoltage = &v
			}
		})
		return err

	case *common.MessageMissionCurrent:
		_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
			if rec.MissionStatus == uav.MissionStopped {
				return
			}
			rec.MissionCurrentSeq = int(m.Seq)
			if rec.MissionTotal > 0 {
				progress := float64(int(m.Seq)+1) / float64(rec.MissionTotal)
				rec.MissionProgress = math.Min(1, math.Max(0, progress))
				if int(m.Seq) >= rec.MissionTotal-1 {
					rec.MissionStatus = uav.MissionCompleted
					rec.MissionPhase = uav.PhaseCompleted
				}
			}
			rec.LastMissionUpdate = time.Now()
		})
		return err

	case *common.MessageStatustext:
		text := strings.ToLower(m.Text)
		if strings.Contains(text, "mission complete") || strings.Contains(text, "landed") {
			_, err := r.reg.Update(r.uavID, func(rec *uav.Record) {
				if rec.MissionStatus != uav.MissionStopped {
					rec.MissionStatus = uav.MissionCompleted
				}
			})
			return err
		}
	}
	return nil
}
