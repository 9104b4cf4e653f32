// internal/registry/registry.go
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/serial"
)

// DefaultCapacity bounds the number of concurrently tracked devices
const DefaultCapacity = 100

var (
	// ErrFull is returned by Insert once capacity is reached
	ErrFull = errors.New("device registry full")
	// ErrAlreadyTracked is returned by Insert for a path that is already tracked
	ErrAlreadyTracked = errors.New("device already tracked")
	// ErrNotTracked is returned by mutation helpers for an unknown path
	ErrNotTracked = errors.New("device not tracked")
)

// Record is the tracked state of one device path
type Record struct {
	Path             string
	ID               int
	State            model.HandshakeState
	Reason           string
	MavlinkValid     bool
	Port             serial.Handle
	Identity         *model.DeviceIdentity
	HeartbeatSeenAt  time.Time
	RequestStartedAt time.Time
	Running          bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Status converts the record to its API view
func (r Record) Status() model.DeviceStatus {
	status := model.DeviceStatus{
		Path:             r.Path,
		ID:               r.ID,
		State:            r.State,
		Reason:           r.Reason,
		MavlinkValid:     r.MavlinkValid,
		Running:          r.Running,
		Identity:         r.Identity,
		RequestStartedAt: r.RequestStartedAt,
	}
	if !r.HeartbeatSeenAt.IsZero() {
		seen := r.HeartbeatSeenAt
		status.HeartbeatSeenAt = &seen
	}
	return status
}

// Registry tracks devices by path with an index by id
type Registry struct {
	mu       sync.Mutex
	byPath   map[string]*Record
	byID     map[int]*Record
	capacity int
	nextID   int
	logger   *zap.Logger
}

// New creates a registry holding at most capacity records
func New(capacity int, logger *zap.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		byPath:   make(map[string]*Record),
		byID:     make(map[int]*Record),
		capacity: capacity,
		logger:   logger.With(zap.String("component", "registry")),
	}
}

// Insert starts tracking path in the Opening state
func (r *Registry) Insert(path string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPath[path]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, path)
	}
	if len(r.byPath) >= r.capacity {
		return nil, fmt.Errorf("%w: capacity %d", ErrFull, r.capacity)
	}

	r.nextID++
	rec := &Record{
		Path:             path,
		ID:               r.nextID,
		State:            model.StateOpening,
		RequestStartedAt: time.Now(),
	}
	r.byPath[path] = rec
	r.byID[rec.ID] = rec

	r.logger.Debug("Device tracked",
		zap.String("dev_path", path),
		zap.Int("device_id", rec.ID),
		zap.Int("tracked", len(r.byPath)),
	)

	clone := *rec
	return &clone, nil
}

// Attach records the worker serving path. done must be closed when the worker exits.
func (r *Registry) Attach(path string, cancel context.CancelFunc, done chan struct{}) error {
	return r.update(path, func(rec *Record) {
		rec.cancel = cancel
		rec.done = done
		rec.Running = true
	})
}

// Remove cancels the worker of path, waits for it to exit and drops the record.
// Removing an untracked path is a no-op.
func (r *Registry) Remove(path string) bool {
	r.mu.Lock()
	rec, ok := r.byPath[path]
	if !ok {
		r.mu.Unlock()
		return false
	}
	cancel, done := rec.cancel, rec.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byPath[path]; ok && current == rec {
		delete(r.byPath, path)
		delete(r.byID, rec.ID)
	}

	r.logger.Debug("Device untracked",
		zap.String("dev_path", path),
		zap.Int("device_id", rec.ID),
		zap.Int("tracked", len(r.byPath)),
	)
	return true
}

// RemoveAll removes every tracked device
func (r *Registry) RemoveAll() {
	for _, rec := range r.Snapshot() {
		r.Remove(rec.Path)
	}
}

// Get returns a copy of the record for path
func (r *Registry) Get(path string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byPath[path]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Lookup returns a copy of the record with the given id
func (r *Registry) Lookup(id int) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all records ordered by id
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	records := make([]Record, 0, len(r.byPath))
	for _, rec := range r.byPath {
		records = append(records, *rec)
	}
	r.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// Len returns the number of tracked devices
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPath)
}

// Capacity returns the maximum number of tracked devices
func (r *Registry) Capacity() int {
	return r.capacity
}

// SetState moves path to state. reason is kept for TimedOut.
func (r *Registry) SetState(path string, state model.HandshakeState, reason string) error {
	return r.update(path, func(rec *Record) {
		rec.State = state
		rec.Reason = reason
	})
}

// MarkHeartbeat records the first heartbeat seen on path
func (r *Registry) MarkHeartbeat(path string, at time.Time) error {
	return r.update(path, func(rec *Record) {
		if rec.HeartbeatSeenAt.IsZero() {
			rec.HeartbeatSeenAt = at
		}
		rec.MavlinkValid = true
	})
}

// SetIdentity stores the resolved identity and marks path identified
func (r *Registry) SetIdentity(path string, identity *model.DeviceIdentity) error {
	return r.update(path, func(rec *Record) {
		rec.Identity = identity
		rec.State = model.StateIdentified
		rec.Reason = ""
	})
}

// SetPort records the bus handle opened for path
func (r *Registry) SetPort(path string, h serial.Handle) error {
	return r.update(path, func(rec *Record) {
		rec.Port = h
	})
}

// MarkInvalid clears the protocol flag after a failed open
func (r *Registry) MarkInvalid(path string) error {
	return r.update(path, func(rec *Record) {
		rec.MavlinkValid = false
	})
}

// MarkStopped records that the worker of path has exited
func (r *Registry) MarkStopped(path string) error {
	return r.update(path, func(rec *Record) {
		rec.Running = false
		rec.Port = 0
	})
}

func (r *Registry) update(path string, mutate func(rec *Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byPath[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, path)
	}
	mutate(rec)
	return nil
}
