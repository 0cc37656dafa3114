// Package missionxfer executes the MAVLink mission upload handshake:
// clear, announce count, serve per-item requests, await ack.
package missionxfer

import (
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/gcserr"
	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/uav"
)

const (
	TimeoutRequest = 10 * time.Second
	TimeoutAck     = 5 * time.Second
)

const (
	cmdNavWaypoint = 16
	cmdNavTakeoff  = 22
	cmdNavLand     = 20
	cmdNavRTL      = 82
	cmdDoJump      = 177
)

// coordless holds the MAV_CMD codes that carry no lat/lon.
var coordless = map[uint16]bool{
	cmdNavLand: true,
	21:         true,
	cmdNavRTL:  true,
	cmdDoJump:  true,
}

// homeEpsilon matches missionplan's coordinate-zero tolerance.
const homeEpsilon = 1e-7

// PrependHome builds the synthetic seq-0 home item when the plan
// carries a valid plannedHomePosition, returning items unchanged
// otherwise.
func PrependHome(items []uav.Item, lat, lon, alt *float64) []uav.Item {
	if lat == nil || lon == nil || math.Abs(*lat) <= homeEpsilon || math.Abs(*lon) <= homeEpsilon {
		return items
	}
	a := 0.0
	if alt != nil {
		a = *alt
	}
	home := uav.Item{
		Command:      cmdNavWaypoint,
		Frame:        0, // MAV_FRAME_GLOBAL
		AutoContinue: true,
		Params:       [7]float32{0, 0, 0, 0, float32(*lat), float32(*lon), float32(a)},
		Lat:          lat,
		Lon:          lon,
		Alt:          alt,
	}
	out := make([]uav.Item, 0, len(items)+1)
	out = append(out, home)
	out = append(out, items...)
	return out
}

// Timeouts overrides the package default TimeoutRequest/TimeoutAck. A
// zero value in either field keeps the corresponding default.
type Timeouts struct {
	Request time.Duration
	Ack     time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Request <= 0 {
		t.Request = TimeoutRequest
	}
	if t.Ack <= 0 {
		t.Ack = TimeoutAck
	}
	return t
}

// Upload drives the clear/announce/request/ack handshake over link for
// the given items, reporting progress through onProgress (number of
// items sent so far, total) so the caller can update the record's
// mission_current_seq without Upload importing the registry package.
func Upload(link *mavlink.Link, items []uav.Item, timeouts Timeouts, onProgress func(seq, total int)) (phase uav.MissionPhase, err error) {
	timeouts = timeouts.withDefaults()
	log := logging.New("missionxfer")
	n := len(items)

	if err := link.SendMavlink(&common.MessageMissionClearAll{TargetSystem: link.TargetSystem(), TargetComponent: link.TargetComponent()}); err != nil {
		return uav.PhaseException, gcserr.Wrap(gcserr.KindTransportError, "", err, "send MISSION_CLEAR_ALL")
	}
	time.Sleep(1 * time.Second)

	if err := link.SendMavlink(&common.MessageMissionCount{
		TargetSystem:    link.TargetSystem(),
		TargetComponent: link.TargetComponent(),
		Count:           uint16(n),
	}); err != nil {
		return uav.PhaseException, gcserr.Wrap(gcserr.KindTransportError, "", err, "send MISSION_COUNT")
	}

	for served := 0; served < n; {
		seq, ok := awaitRequest(link, timeouts.Request)
		if !ok {
			return uav.PhaseUploadError, gcserr.New(gcserr.KindProtocolTimeout, "", "timed out waiting for MISSION_REQUEST")
		}
		if int(seq) >= n {
			return uav.PhaseUploadError, gcserr.New(gcserr.KindProtocolViolation, "", "request seq %d out of range (n=%d)", seq, n)
		}

		item := items[seq]
		x, y, violation, warn := encodeCoords(item)
		if violation {
			return uav.PhaseUploadError, gcserr.New(gcserr.KindProtocolViolation, "", "NAV_WAYPOINT seq %d missing coordinates", seq)
		}
		if warn {
			log.Warnf("command %d seq %d has no coordinates, encoding as (0,0)", item.Command, seq)
		}

		alt := float32(0)
		if item.Alt != nil {
			alt = float32(*item.Alt)
		} else {
			alt = item.Params[6]
		}

		// The wire seq is the array position the UAV asked for; item.Seq
		// is the display seq (doJumpId) and never goes on the wire.
		if err := link.SendMavlink(&common.MessageMissionItemInt{
			TargetSystem:    link.TargetSystem(),
			TargetComponent: link.TargetComponent(),
			Seq:             seq,
			Frame:           common.MAV_FRAME(item.Frame),
			Command:         common.MAV_CMD(item.Command),
			Current:         0,
			Autocontinue:    boolToUint8(item.AutoContinue),
			Param1:          item.Params[0],
			Param2:          item.Params[1],
			Param3:          item.Params[2],
			Param4:          item.Params[3],
			X:               x,
			Y:               y,
			Z:               alt,
		}); err != nil {
			return uav.PhaseException, gcserr.Wrap(gcserr.KindTransportError, "", err, "send MISSION_ITEM_INT seq %d", seq)
		}

		served++
		if onProgress != nil {
			onProgress(served, n)
		}
	}

	// The ack is best-effort: some autopilots omit the final MISSION_ACK,
	// and the items were already transmitted either way.
	awaitAck(link, timeouts.Ack, log)

	return uav.PhaseInProgress, nil
}

func awaitRequest(link *mavlink.Link, timeout time.Duration) (uint16, bool) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, false
		}
		msg := link.Recv(remaining)
		if msg == nil {
			return 0, false
		}
		switch m := msg.(type) {
		case *common.MessageMissionRequestInt:
			return m.Seq, true
		case *common.MessageMissionRequest:
			return m.Seq, true
		}
	}
}

func awaitAck(link *mavlink.Link, timeout time.Duration, log *logging.Logger) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		msg := link.Recv(remaining)
		if msg == nil {
			return
		}
		if ack, ok := msg.(*common.MessageMissionAck); ok {
			if ack.Type != common.MAV_MISSION_ACCEPTED {
				log.Warnf("MISSION_ACK type %v, treating upload as successful anyway", ack.Type)
			}
			return
		}
	}
}

// encodeCoords scales lat/lon to 1e7 wire units. A NAV_WAYPOINT with
// no coordinates is a violation; any other non-coordless command with
// no coordinates encodes as (0,0) with warn set for the caller to log.
func encodeCoords(item uav.Item) (x, y int32, violation, warn bool) {
	if coordless[item.Command] {
		return 0, 0, false, false
	}
	if item.Lat != nil && item.Lon != nil {
		return int32(math.Round(*item.Lat * 1e7)), int32(math.Round(*item.Lon * 1e7)), false, false
	}
	if item.Command == cmdNavWaypoint {
		return 0, 0, true, false
	}
	return 0, 0, false, true
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
