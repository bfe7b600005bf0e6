// README: In-memory lifecycle store partitioning in-flight trips into pending, ready, and ongoing.
package trip

import (
	"errors"
	"sync"

	"dispatch/internal/types"
)

var (
	ErrNotFound  = errors.New("trip not found")
	ErrDuplicate = errors.New("trip already in flight")
)

type entry struct {
	trip      *Trip
	partition Partition
}

// Store is an arena of trips keyed by id plus one ordered id list per partition.
// A trip is in exactly one partition while present and in none after removal.
type Store struct {
	mu     sync.RWMutex
	trips  map[types.ID]*entry
	orders map[Partition][]types.ID
}

func NewStore() *Store {
	return &Store{
		trips: make(map[types.ID]*entry),
		orders: map[Partition][]types.ID{
			PartitionPending: nil,
			PartitionReady:   nil,
			PartitionOngoing: nil,
		},
	}
}

// AddPending hands a new trip to the store in the pending partition.
func (s *Store) AddPending(t Trip) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[t.ID]; ok {
		return Trip{}, ErrDuplicate
	}
	c := t.Clone()
	c.DriverID = nil
	c.Status = StatusPending
	s.trips[t.ID] = &entry{trip: &c, partition: PartitionPending}
	s.orders[PartitionPending] = append(s.orders[PartitionPending], t.ID)
	return c.Clone(), nil
}

func (s *Store) MoveToReady(id, driverID types.ID) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.trips[id]
	if !ok || e.partition != PartitionPending {
		return Trip{}, ErrNotFound
	}
	d := driverID
	e.trip.DriverID = &d
	s.move(e, PartitionReady)
	return e.trip.Clone(), nil
}

// MoveToPending returns a ready or ongoing trip to the pool and reports where
// it came from. Trips leaving ongoing lose every in-flight field.
func (s *Store) MoveToPending(id types.ID) (Trip, Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.trips[id]
	if !ok || (e.partition != PartitionReady && e.partition != PartitionOngoing) {
		return Trip{}, PartitionNone, ErrNotFound
	}
	from := e.partition
	if from == PartitionOngoing {
		e.trip.resetInFlight()
	}
	e.trip.DriverID = nil
	s.move(e, PartitionPending)
	return e.trip.Clone(), from, nil
}

func (s *Store) MoveToOngoing(id types.ID) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.trips[id]
	if !ok || e.partition != PartitionReady {
		return Trip{}, ErrNotFound
	}
	s.move(e, PartitionOngoing)
	return e.trip.Clone(), nil
}

// Remove deletes the trip from whichever partition holds it.
func (s *Store) Remove(id types.ID) (Trip, Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.trips[id]
	if !ok {
		return Trip{}, PartitionNone, ErrNotFound
	}
	s.unlink(id, e.partition)
	delete(s.trips, id)
	return *e.trip, e.partition, nil
}

// Update mutates a trip in place if it is currently in partition p.
// fn sees the stored trip; an error from fn aborts without further changes
// but fn is responsible for not mutating before returning an error.
func (s *Store) Update(id types.ID, p Partition, fn func(*Trip) error) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.trips[id]
	if !ok || e.partition != p {
		return Trip{}, ErrNotFound
	}
	if err := fn(e.trip); err != nil {
		return Trip{}, err
	}
	return e.trip.Clone(), nil
}

// UpdateWhere mutates every trip in partition p for which match returns true,
// in insertion order, and returns copies of the mutated trips.
func (s *Store) UpdateWhere(p Partition, match func(*Trip) bool, fn func(*Trip)) []Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trip
	for _, id := range s.orders[p] {
		t := s.trips[id].trip
		if !match(t) {
			continue
		}
		fn(t)
		out = append(out, t.Clone())
	}
	return out
}

// Find searches pending, then ready, then ongoing.
func (s *Store) Find(id types.ID) (Trip, Partition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.trips[id]
	if !ok {
		return Trip{}, PartitionNone, false
	}
	return e.trip.Clone(), e.partition, true
}

// ByDriver lists the ready and ongoing trips assigned to driverID.
func (s *Store) ByDriver(driverID types.ID) []Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Trip
	for _, p := range []Partition{PartitionReady, PartitionOngoing} {
		for _, id := range s.orders[p] {
			if t := s.trips[id].trip; t.AssignedTo(driverID) {
				out = append(out, t.Clone())
			}
		}
	}
	return out
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Pending: s.list(PartitionPending),
		Ready:   s.list(PartitionReady),
		Ongoing: s.list(PartitionOngoing),
	}
}

func (s *Store) List(p Partition) []Trip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(p)
}

func (s *Store) Counts() map[Partition]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[Partition]int{
		PartitionPending: len(s.orders[PartitionPending]),
		PartitionReady:   len(s.orders[PartitionReady]),
		PartitionOngoing: len(s.orders[PartitionOngoing]),
	}
}

// Reset empties every partition and returns what was removed.
func (s *Store) Reset() []Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []Trip
	for _, p := range []Partition{PartitionPending, PartitionReady, PartitionOngoing} {
		for _, id := range s.orders[p] {
			removed = append(removed, *s.trips[id].trip)
		}
		s.orders[p] = nil
	}
	s.trips = make(map[types.ID]*entry)
	return removed
}

func (s *Store) list(p Partition) []Trip {
	ids := s.orders[p]
	out := make([]Trip, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.trips[id].trip.Clone())
	}
	return out
}

func (s *Store) move(e *entry, to Partition) {
	s.unlink(e.trip.ID, e.partition)
	e.partition = to
	s.orders[to] = append(s.orders[to], e.trip.ID)
}

func (s *Store) unlink(id types.ID, p Partition) {
	ids := s.orders[p]
	for i, oid := range ids {
		if oid == id {
			s.orders[p] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}
