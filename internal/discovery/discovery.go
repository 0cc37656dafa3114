// Package discovery implements one-shot UAV discovery: open a Link per
// configured port, wait for the first heartbeat, register the UAV and
// spawn its telemetry reader.
package discovery

import (
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/registry"
	"github.com/Legell/UAV-System/internal/telemetry"
	"github.com/Legell/UAV-System/internal/uav"
)

type Discovery struct {
	reg             *registry.Registry
	peerHost        string
	ports           []int
	namePrefix      string
	nameOffset      int
	handshake       time.Duration
	heartbeatPeriod time.Duration
	sourceSystem    uint8
	sourceComponent uint8
	log             *logging.Logger
}

type Config struct {
	PeerHost        string
	Ports           []int
	NamePrefix      string
	NameOffset      int
	Handshake       time.Duration
	HeartbeatPeriod time.Duration
	SourceSystem    uint8
	SourceComponent uint8
}

func New(reg *registry.Registry, cfg Config) *Discovery {
	return &Discovery{
		reg:             reg,
		peerHost:        cfg.PeerHost,
		ports:           cfg.Ports,
		namePrefix:      cfg.NamePrefix,
		nameOffset:      cfg.NameOffset,
		handshake:       cfg.Handshake,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		sourceSystem:    cfg.SourceSystem,
		sourceComponent: cfg.SourceComponent,
		log:             logging.New("discovery"),
	}
}

// Run performs one discovery pass; callers may retrigger. Returns the
// uav_ids successfully registered.
func (d *Discovery) Run() []string {
	var registered []string
	for _, port := range d.ports {
		uavID := fmt.Sprintf("uav_%d", port)
		if d.reg.IsConnected(uavID) {
			continue
		}
		if d.probe(uavID, port) {
			registered = append(registered, uavID)
		}
	}
	return registered
}

func (d *Discovery) probe(uavID string, port int) bool {
	link, err := mavlink.Open(mavlink.Config{
		PeerHost:        d.peerHost,
		Port:            port,
		SourceSystem:    d.sourceSystem,
		SourceComponent: d.sourceComponent,
		HeartbeatPeriod: d.heartbeatPeriod,
	})
	if err != nil {
		d.log.Warnf("open link for port %d: %v", port, err)
		return false
	}

	if err := link.SendHeartbeat(common.MAV_TYPE_GCS, common.MAV_AUTOPILOT_INVALID, 0, 0, common.MAV_STATE_ACTIVE); err != nil {
		d.log.Warnf("send heartbeat to port %d: %v", port, err)
	}

	if !d.awaitHeartbeat(link) {
		link.Close()
		return false
	}

	name := fmt.Sprintf("%s%d", d.namePrefix, port-d.nameOffset)
	rec := uav.NewRecord(uavID, name, port)
	d.reg.Insert(rec, link)

	reader := telemetry.NewReader(uavID, d.reg)
	go reader.Run()

	d.log.Infof("registered %s (%s) on port %d", uavID, name, port)
	return true
}

func (d *Discovery) awaitHeartbeat(link *mavlink.Link) bool {
	deadline := time.Now().Add(d.handshake)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		msg := link.Recv(remaining)
		if msg == nil {
			return false
		}
		if _, ok := msg.(*common.MessageHeartbeat); ok {
			return true
		}
	}
}
