// README: Process-wide registry of connected drivers and their live state.
package driver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"dispatch/internal/types"
)

var ErrNotFound = errors.New("driver not found")

// Registry holds at most one entry per driver id. Disconnects clear the
// channel handle but keep the entry so trip associations survive reconnects.
type Registry struct {
	mu        sync.RWMutex
	drivers   map[types.ID]*Driver
	order     []types.ID
	listeners []func(Change)
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[types.ID]*Driver),
		now:     time.Now,
	}
}

// OnChange registers fn to run after every committed mutation. fn runs on the
// mutating goroutine after the registry lock is released.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// UpsertOnConnect creates the driver if absent and attaches the channel handle.
// A newly created driver starts available.
func (r *Registry) UpsertOnConnect(id types.ID, handle string, loc types.Coordinates) Driver {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		d = &Driver{ID: id, Available: true}
		r.drivers[id] = d
		r.order = append(r.order, id)
	}
	d.ChannelHandle = handle
	if !loc.IsZero() {
		d.Location = loc
	}
	d.LastSeenAt = r.now()
	out := *d
	r.mu.Unlock()

	r.emit(Change{Kind: ChangeConnected, Driver: out})
	return out
}

// MarkDisconnected clears the handle of whichever driver holds it and reports
// which driver that was.
func (r *Registry) MarkDisconnected(handle string) (Driver, bool) {
	if handle == "" {
		return Driver{}, false
	}
	r.mu.Lock()
	var found *Driver
	for _, d := range r.drivers {
		if d.ChannelHandle == handle {
			found = d
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return Driver{}, false
	}
	found.ChannelHandle = ""
	found.LastSeenAt = r.now()
	out := *found
	r.mu.Unlock()

	r.emit(Change{Kind: ChangeDisconnected, Driver: out})
	return out, true
}

func (r *Registry) UpdateLocation(id types.ID, loc types.Coordinates) (Driver, error) {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		r.mu.Unlock()
		return Driver{}, ErrNotFound
	}
	d.Location = loc
	d.LastSeenAt = r.now()
	out := *d
	r.mu.Unlock()

	r.emit(Change{Kind: ChangeLocation, Driver: out})
	return out, nil
}

func (r *Registry) SetAvailability(id types.ID, available bool) (Driver, error) {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		r.mu.Unlock()
		return Driver{}, ErrNotFound
	}
	d.Available = available
	out := *d
	r.mu.Unlock()

	r.emit(Change{Kind: ChangeAvailability, Driver: out})
	return out, nil
}

// SetAllAvailable marks every registered driver available.
func (r *Registry) SetAllAvailable() {
	r.mu.Lock()
	changed := make([]Driver, 0, len(r.order))
	for _, id := range r.order {
		d := r.drivers[id]
		if d.Available {
			continue
		}
		d.Available = true
		changed = append(changed, *d)
	}
	r.mu.Unlock()

	for _, d := range changed {
		r.emit(Change{Kind: ChangeAvailability, Driver: d})
	}
}

// Logout removes the driver entirely.
func (r *Registry) Logout(id types.ID) error {
	r.mu.Lock()
	d, ok := r.drivers[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	out := *d
	delete(r.drivers, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.emit(Change{Kind: ChangeLogout, Driver: out})
	return nil
}

func (r *Registry) Find(id types.ID) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return Driver{}, false
	}
	return *d, true
}

// FindByHandle resolves the driver currently attached to a channel handle.
func (r *Registry) FindByHandle(handle string) (Driver, bool) {
	if handle == "" {
		return Driver{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.drivers {
		if d.ChannelHandle == handle {
			return *d, true
		}
	}
	return Driver{}, false
}

// All returns a snapshot in first-connection order.
func (r *Registry) All() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Driver, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.drivers[id])
	}
	return out
}

// Connected returns the ids of drivers with a live channel, sorted.
func (r *Registry) Connected() []types.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []types.ID
	for id, d := range r.drivers {
		if d.Connected() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) emit(c Change) {
	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}
