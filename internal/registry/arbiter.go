package registry

import "github.com/Legell/UAV-System/internal/uav"

// BeginExclusive sets mission_comm_lock=true for uavID: the telemetry
// reader observes this at its next loop boundary and yields without
// calling recv. Returns a release func that must run via defer so the
// lock clears even on panic or early return.
func (r *Registry) BeginExclusive(uavID string) (release func(), err error) {
	if _, err := r.Update(uavID, func(rec *uav.Record) {
		rec.MissionCommLock = true
	}); err != nil {
		return func() {}, err
	}
	return func() {
		_, _ = r.Update(uavID, func(rec *uav.Record) {
			rec.MissionCommLock = false
		})
	}, nil
}
