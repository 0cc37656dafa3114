// Package heartbeatmon sweeps the registry on a ticker, marking UAVs
// whose last heartbeat is stale as offline. It never touches the
// connected flag and never closes the Link, since transient packet loss
// must not destroy session state.
package heartbeatmon

import (
	"context"
	"time"

	"github.com/Legell/UAV-System/internal/logging"
	"github.com/Legell/UAV-System/internal/registry"
	"github.com/Legell/UAV-System/internal/uav"
)

type Monitor struct {
	reg        *registry.Registry
	sweep      time.Duration
	staleAfter time.Duration
	log        *logging.Logger
}

func New(reg *registry.Registry, sweep, staleAfter time.Duration) *Monitor {
	return &Monitor{reg: reg, sweep: sweep, staleAfter: staleAfter, log: logging.New("heartbeatmon")}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Monitor) sweepOnce() {
	now := time.Now()
	for _, rec := range m.reg.SnapshotAll() {
		if !rec.Connected {
			continue
		}
		if now.Sub(rec.LastHeartbeat) > m.staleAfter && rec.Status != uav.StatusOffline {
			if _, err := m.reg.Update(rec.UAVID, func(r *uav.Record) {
				r.Status = uav.StatusOffline
			}); err != nil {
				m.log.Warnf("marking %s offline: %v", rec.UAVID, err)
			}
		}
	}
}
