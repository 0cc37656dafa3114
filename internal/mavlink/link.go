// Package mavlink wraps gomavlib into the single-endpoint Link the rest
// of the core talks through: one UDP socket per UAV, encode/decode via
// gomavlib's common dialect, GCS heartbeats on a timer.
package mavlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/Legell/UAV-System/internal/logging"
)

// ArduCopter custom_mode values (public ArduCopter flight mode
// numbering). PX4's main/sub-mode bitfield encoding does not apply to
// this firmware family.
const (
	ModeStabilize = 0
	ModeAltHold   = 2
	ModeAuto      = 3
	ModeGuided    = 4
	ModeLoiter    = 5
	ModeBrake     = 17
)

// ModeMap names the ArduCopter modes the flight director reasons about.
var ModeMap = map[string]uint32{
	"GUIDED":    ModeGuided,
	"LOITER":    ModeLoiter,
	"STABILIZE": ModeStabilize,
	"ALT_HOLD":  ModeAltHold,
	"AUTO":      ModeAuto,
	"BRAKE":     ModeBrake,
}

// PreArmPriority is the order modes are tried when picking a pre-arm mode.
var PreArmPriority = []string{"GUIDED", "LOITER", "STABILIZE", "ALT_HOLD"}

// StopPriority is the order modes are tried when stopping a mission.
var StopPriority = []string{"BRAKE", "LOITER", "ALT_HOLD"}

// Link owns one UDP endpoint to a single UAV. It is not safe for
// concurrent recv callers; arbitration between the telemetry reader
// and a mission sequence is external, via the record's
// mission_comm_lock flag.
type Link struct {
	node *gomavlib.Node
	log  *logging.Logger

	mu              sync.RWMutex
	targetSystem    uint8
	targetComponent uint8
	haveTarget      bool

	events chan message.Message

	stopHeartbeat chan struct{}
	closeOnce     sync.Once
}

// Config describes the UDP peer a Link dials. Discovery already knows
// the peer host and port, so the Link dials out rather than listening
// and learning the peer from the first packet the way a server
// endpoint would.
type Config struct {
	PeerHost        string
	Port            int
	SourceSystem    uint8
	SourceComponent uint8
	HeartbeatPeriod time.Duration
}

// Open creates a Link dialing udp:<peer>:<port>.
func Open(cfg Config) (*Link, error) {
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{
				Address: fmt.Sprintf("%s:%d", cfg.PeerHost, cfg.Port),
			},
		},
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    cfg.SourceSystem,
		OutComponentID: cfg.SourceComponent,
	})
	if err != nil {
		return nil, fmt.Errorf("open link %s:%d: %w", cfg.PeerHost, cfg.Port, err)
	}

	l := &Link{
		node:          node,
		log:           logging.New(fmt.Sprintf("link[%d]", cfg.Port)),
		events:        make(chan message.Message, 64),
		stopHeartbeat: make(chan struct{}),
	}

	go l.pump()
	if cfg.HeartbeatPeriod > 0 {
		go l.sendHeartbeats(cfg.HeartbeatPeriod)
	}

	return l, nil
}

// pump forwards decoded frames into the buffered events channel and
// records the target system/component from the first frame received.
func (l *Link) pump() {
	for evt := range l.node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}

		l.mu.Lock()
		if !l.haveTarget {
			l.targetSystem = frm.SystemID()
			l.targetComponent = frm.ComponentID()
			l.haveTarget = true
		}
		l.mu.Unlock()

		select {
		case l.events <- frm.Message():
		default:
			l.log.Warnf("event channel full, dropping frame")
		}
	}
}

func (l *Link) sendHeartbeats(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopHeartbeat:
			return
		case <-ticker.C:
			if err := l.SendHeartbeat(common.MAV_TYPE_GCS, common.MAV_AUTOPILOT_INVALID, 0, 0, common.MAV_STATE_ACTIVE); err != nil {
				l.log.Warnf("heartbeat send failed: %v", err)
			}
		}
	}
}

// SendHeartbeat transmits one GCS heartbeat.
func (l *Link) SendHeartbeat(vehicleType common.MAV_TYPE, autopilot common.MAV_AUTOPILOT, baseMode uint8, customMode uint32, state common.MAV_STATE) error {
	return l.node.WriteMessageAll(&common.MessageHeartbeat{
		Type:           vehicleType,
		Autopilot:      autopilot,
		BaseMode:       common.MAV_MODE_FLAG(baseMode),
		CustomMode:     customMode,
		SystemStatus:   state,
		MavlinkVersion: 3,
	})
}

// SendMavlink transmits an arbitrary dialect message.
func (l *Link) SendMavlink(msg message.Message) error {
	return l.node.WriteMessageAll(msg)
}

// Recv waits up to timeout for the next message. Returns nil on timeout.
// Not safe for concurrent callers; arbitration is external.
func (l *Link) Recv(timeout time.Duration) message.Message {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return nil
	case msg := <-l.events:
		return msg
	}
}

// RecvMatch waits up to timeout for a message for which match returns
// true, discarding anything else seen in the meantime.
func (l *Link) RecvMatch(timeout time.Duration, match func(message.Message) bool) message.Message {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		msg := l.Recv(remaining)
		if msg == nil {
			return nil
		}
		if match(msg) {
			return msg
		}
	}
}

// TargetSystem returns the system ID learned from the first received
// frame, or 0 if none has arrived yet.
func (l *Link) TargetSystem() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.targetSystem
}

// TargetComponent returns the component ID learned from the first
// received frame, or 0 if none has arrived yet.
func (l *Link) TargetComponent() uint8 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.targetComponent
}

// HasTarget reports whether a frame has been received yet.
func (l *Link) HasTarget() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.haveTarget
}

// Close shuts down the heartbeat sender and the underlying node.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopHeartbeat)
		l.node.Close()
	})
	return nil
}
