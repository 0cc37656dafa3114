// Package flightdir implements the arm/mode/mission-start sequencer:
// pick a pre-arm mode, arm, switch to AUTO, send MISSION_START. The
// mode and arm steps are verified against the heartbeat stream;
// MISSION_START is sent without verification.
package flightdir

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/gcserr"
	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/uav"
)

const (
	ArmTimeout  = 10 * time.Second
	ModeTimeout = 10 * time.Second
	armedCheck  = 3 * time.Second
)

// Timeouts overrides the package default ArmTimeout/ModeTimeout. A
// zero value in either field keeps the corresponding default.
type Timeouts struct {
	Arm  time.Duration
	Mode time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Arm <= 0 {
		t.Arm = ArmTimeout
	}
	if t.Mode <= 0 {
		t.Mode = ModeTimeout
	}
	return t
}

// Run executes the full start sequence: pick pre-arm mode, arm, switch
// to AUTO, send MISSION_START. The returned phase tells the caller
// which step a failure happened at.
func Run(link *mavlink.Link, timeouts Timeouts) (phase uav.MissionPhase, err error) {
	timeouts = timeouts.withDefaults()
	log := logging.New("flightdir")
	preArm, ok := choosePreArmMode()

	if !isArmed(link, armedCheck) {
		if ok {
			if !setMode(link, preArm, timeouts.Mode, log) {
				return uav.PhaseModeError, gcserr.New(gcserr.KindProtocolTimeout, "", "set_mode(%s) did not verify in time", preArm)
			}
		}
		if !arm(link, true, timeouts.Arm, log) {
			return uav.PhaseArmError, gcserr.New(gcserr.KindProtocolTimeout, "", "arm did not verify in time")
		}
	}

	if !setMode(link, "AUTO", timeouts.Mode, log) {
		return uav.PhaseModeAutoError, gcserr.New(gcserr.KindProtocolTimeout, "", "set_mode(AUTO) did not verify in time")
	}

	if err := link.SendMavlink(&common.MessageCommandLong{
		TargetSystem:    link.TargetSystem(),
		TargetComponent: link.TargetComponent(),
		Command:         common.MAV_CMD_MISSION_START,
		Confirmation:    0,
	}); err != nil {
		return uav.PhaseException, gcserr.Wrap(gcserr.KindTransportError, "", err, "send MISSION_START")
	}

	return uav.PhaseInProgress, nil
}

// choosePreArmMode picks the first available mode from the pre-arm
// priority list, falling back to any mode in the map.
func choosePreArmMode() (string, bool) {
	for _, name := range mavlink.PreArmPriority {
		if _, ok := mavlink.ModeMap[name]; ok {
			return name, true
		}
	}
	for name := range mavlink.ModeMap {
		return name, true
	}
	return "", false
}

func isArmed(link *mavlink.Link, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		msg := link.Recv(remaining)
		hb, ok := msg.(*common.MessageHeartbeat)
		if !ok {
			continue
		}
		return hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	}
}

// setMode sends SET_MODE then polls heartbeats for custom_mode to
// settle. The authoritative signal is the heartbeat; COMMAND_ACK and
// STATUSTEXT seen while waiting go to the log and nothing else.
func setMode(link *mavlink.Link, name string, timeout time.Duration, log *logging.Logger) bool {
	target, ok := mavlink.ModeMap[name]
	if !ok {
		return false
	}
	if err := link.SendMavlink(&common.MessageSetMode{
		TargetSystem: link.TargetSystem(),
		BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		CustomMode:   target,
	}); err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		switch m := link.Recv(remaining).(type) {
		case *common.MessageHeartbeat:
			if m.CustomMode == target {
				return true
			}
		case *common.MessageCommandAck:
			log.Infof("set_mode(%s): COMMAND_ACK %v result %v", name, m.Command, m.Result)
		case *common.MessageStatustext:
			log.Infof("set_mode(%s): STATUSTEXT %q", name, m.Text)
		}
	}
}

// arm sends COMMAND_LONG(ARM_DISARM) and waits for the heartbeat's
// SAFETY_ARMED flag to match the requested state. COMMAND_ACK and
// STATUSTEXT are surfaced to the log but never terminate this wait;
// only the heartbeat flag does.
func arm(link *mavlink.Link, desired bool, timeout time.Duration, log *logging.Logger) bool {
	param1 := float32(0)
	if desired {
		param1 = 1
	}
	if err := link.SendMavlink(&common.MessageCommandLong{
		TargetSystem:    link.TargetSystem(),
		TargetComponent: link.TargetComponent(),
		Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:          param1,
	}); err != nil {
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		switch m := link.Recv(remaining).(type) {
		case *common.MessageHeartbeat:
			armed := m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
			if armed == desired {
				return true
			}
		case *common.MessageCommandAck:
			log.Infof("arm: COMMAND_ACK %v result %v", m.Command, m.Result)
		case *common.MessageStatustext:
			log.Infof("arm: STATUSTEXT %q", m.Text)
		}
	}
}

// StopMission tries BRAKE/LOITER/ALT_HOLD send-only (no verify, to
// avoid contending with the telemetry reader for heartbeats), falling
// back to NAV_LOITER_UNLIM if none are mapped.
func StopMission(link *mavlink.Link) error {
	for _, name := range mavlink.StopPriority {
		if target, ok := mavlink.ModeMap[name]; ok {
			return link.SendMavlink(&common.MessageSetMode{
				TargetSystem: link.TargetSystem(),
				BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
				CustomMode:   target,
			})
		}
	}
	return link.SendMavlink(&common.MessageCommandLong{
		TargetSystem:    link.TargetSystem(),
		TargetComponent: link.TargetComponent(),
		Command:         common.MAV_CMD_NAV_LOITER_UNLIM,
	})
}
