// Package registry implements the process-wide UAV registry: a
// mutex-guarded mapping from uav_id to record and Link, handed around
// as a typed handle rather than exposed as free-floating package
// state. Snapshots returned by Get/SnapshotAll are by-value copies;
// all mutation goes through Update under the lock.
package registry

import (
	"sort"
	"sync"

	"github.com/Legell/UAV-System/internal/gcserr"
	"github.com/Legell/UAV-System/internal/mavlink"
	"github.com/Legell/UAV-System/internal/uav"
)

// Registry holds every known UAV record and its Link behind one mutex.
type Registry struct {
	mu      sync.Mutex
	records map[string]*uav.Record
	links   map[string]*mavlink.Link
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*uav.Record),
		links:   make(map[string]*mavlink.Link),
	}
}

// Insert adds a new record and its Link, replacing any existing entry
// for the same uav_id. Discovery re-registering a port with a retained,
// disconnected record reuses the id instead of erroring.
func (r *Registry) Insert(rec *uav.Record, link *mavlink.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.UAVID] = rec
	r.links[rec.UAVID] = link
}

// Remove deletes both the record and Link for uav_id, if present.
func (r *Registry) Remove(uavID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, uavID)
	delete(r.links, uavID)
}

// RemoveLink deletes only the Link for uav_id, keeping the record. Used
// by disconnect, which retains the record with connected=false.
func (r *Registry) RemoveLink(uavID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, uavID)
}

// Get returns a by-value snapshot of the record, or NotFound.
func (r *Registry) Get(uavID string) (*uav.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uavID]
	if !ok {
		return nil, gcserr.New(gcserr.KindNotFound, uavID, "unknown uav_id")
	}
	return rec.Clone(), nil
}

// Update invokes patch against the live record under the lock and
// returns a snapshot of the result. patch must not block or perform I/O.
func (r *Registry) Update(uavID string, patch func(*uav.Record)) (*uav.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uavID]
	if !ok {
		return nil, gcserr.New(gcserr.KindNotFound, uavID, "unknown uav_id")
	}
	patch(rec)
	return rec.Clone(), nil
}

// SnapshotAll returns by-value copies of every record, sorted by port.
func (r *Registry) SnapshotAll() []*uav.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*uav.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// WithLink invokes f(link) while holding the registry lock. Callers
// must never block for I/O inside f. This exists for fast,
// non-blocking Link operations (e.g. reading TargetSystem), not recv.
func (r *Registry) WithLink(uavID string, f func(*mavlink.Link) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[uavID]
	if !ok || link == nil {
		return gcserr.New(gcserr.KindLinkUnavailable, uavID, "no open link")
	}
	return f(link)
}

// Link returns the Link for uavID without holding the registry lock
// across the caller's use of it. Used by long-lived per-UAV tasks
// (Telemetry Reader, Mission Transfer) that must recv outside the lock.
func (r *Registry) Link(uavID string) (*mavlink.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[uavID]
	if !ok || link == nil {
		return nil, gcserr.New(gcserr.KindLinkUnavailable, uavID, "no open link")
	}
	return link, nil
}

// Exists reports whether uavID currently has a record.
func (r *Registry) Exists(uavID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[uavID]
	return ok
}

// IsConnected reports whether uavID has a record with connected=true,
// used by discovery to decide which ports still need probing.
func (r *Registry) IsConnected(uavID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uavID]
	return ok && rec.Connected
}
