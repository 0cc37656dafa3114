package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Legell/UAV-System/internal/config"
	"github.com/Legell/UAV-System/internal/core"
	"github.com/Legell/UAV-System/internal/discovery"
	"github.com/Legell/UAV-System/internal/heartbeatmon"
	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/registry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("main").Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	logging.SetLevelFromString(cfg.Logging.Level)
	log := logging.New("main")

	reg := registry.New()

	disc := discovery.New(reg, discovery.Config{
		PeerHost:        cfg.Discovery.PeerHost,
		Ports:           cfg.Discovery.Ports,
		NamePrefix:      cfg.Discovery.NamePrefix,
		NameOffset:      cfg.Discovery.NameOffset,
		Handshake:       cfg.HandshakeTimeout(),
		HeartbeatPeriod: cfg.HeartbeatPeriod(),
		SourceSystem:    cfg.MAVLink.SourceSystem,
		SourceComponent: cfg.MAVLink.SourceComponent,
	})

	monitor := heartbeatmon.New(reg, cfg.SweepInterval(), cfg.StaleAfter())

	gcs := core.New(reg, disc, monitor, core.Timeouts{
		Request: cfg.RequestTimeout(),
		Ack:     cfg.AckTimeout(),
		Arm:     cfg.ArmTimeout(),
		Mode:    cfg.ModeTimeout(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx)

	registered := gcs.DiscoverOnce()
	log.Infof("discovery registered %d UAV(s): %v", len(registered), registered)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Infof("shutting down")
	cancel()
	for _, rec := range gcs.ListUAVs() {
		_ = gcs.Disconnect(rec.UAVID)
	}
}
