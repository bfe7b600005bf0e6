// README: Postgres persistence gateway for trip records and learned entity locations.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

var ErrTripNotPersisted = errors.New("trip has no persisted record")

type EntityKind string

const (
	EntityCustomer EntityKind = "customer"
	EntityVendor   EntityKind = "vendor"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// SaveTrip inserts (or refreshes) the trip record and returns its trip number.
// The number comes from a sequence on first insert and never changes after.
func (s *Store) SaveTrip(ctx context.Context, t trip.Trip) (int64, error) {
	doc, err := json.Marshal(t)
	if err != nil {
		return 0, err
	}
	var number int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO trips (trip_id, status, driver_id, customer_id, vendor_id, vehicle_number,
			vehicle_class, alternative, fixed_price, scheduling_date, created_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (trip_id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = now()
		RETURNING trip_number`,
		string(t.ID), string(statusOrPending(t.Status)), driverID(t), string(t.Customer.ID), vendorID(t),
		t.VehicleNumber, t.VehicleClass, t.Alternative, t.FixedPrice, t.SchedulingDate, t.CreatedAt, doc,
	).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return number, nil
}

// UpdateTrip writes the final state of a trip that was saved before.
func (s *Store) UpdateTrip(ctx context.Context, t trip.Trip) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET
			status = $2,
			driver_id = $3,
			vendor_id = $4,
			distance = $5,
			unpaid_distance = $6,
			price = $7,
			item_price = $8,
			reason = $9,
			finished_at = $10,
			elapsed_seconds = $11,
			document = $12,
			updated_at = now()
		WHERE trip_id = $1`,
		string(t.ID), string(t.Status), driverID(t), vendorID(t), t.Distance, t.UnpaidDistance,
		t.Price, t.ItemPrice, t.Reason, finishedAt(t), t.ElapsedSeconds, doc,
	)
	if err != nil {
		return fmt.Errorf("update trip %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTripNotPersisted
	}
	return nil
}

// GetTrip loads the last persisted document of a trip.
func (s *Store) GetTrip(ctx context.Context, id types.ID) (trip.Trip, error) {
	var doc []byte
	var number int64
	err := s.db.QueryRow(ctx, `SELECT trip_number, document FROM trips WHERE trip_id = $1`, string(id)).Scan(&number, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return trip.Trip{}, ErrTripNotPersisted
	}
	if err != nil {
		return trip.Trip{}, err
	}
	var t trip.Trip
	if err := json.Unmarshal(doc, &t); err != nil {
		return trip.Trip{}, fmt.Errorf("decode trip %s: %w", id, err)
	}
	t.TripNumber = number
	return t, nil
}

// UpdateLocation records an exact location learned for a customer or vendor.
func (s *Store) UpdateLocation(ctx context.Context, kind EntityKind, id types.ID, loc types.Location) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO entity_locations (kind, entity_id, lat, lng, approximate, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, entity_id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			approximate = EXCLUDED.approximate,
			description = COALESCE(EXCLUDED.description, entity_locations.description),
			updated_at = now()`,
		string(kind), string(id), loc.Coords.Lat, loc.Coords.Lng, loc.Approximate, loc.Description,
	)
	if err != nil {
		return fmt.Errorf("update %s %s location: %w", kind, id, err)
	}
	return nil
}

func statusOrPending(s trip.Status) trip.Status {
	if s == "" {
		return trip.StatusPending
	}
	return s
}

func driverID(t trip.Trip) *string {
	if t.DriverID == nil {
		return nil
	}
	s := string(*t.DriverID)
	return &s
}

func vendorID(t trip.Trip) *string {
	if t.Vendor == nil {
		return nil
	}
	s := string(t.Vendor.ID)
	return &s
}

func finishedAt(t trip.Trip) *time.Time {
	if t.State.TripEnd != nil {
		ts := t.State.TripEnd.Time
		return &ts
	}
	if t.Status == trip.StatusCancelled {
		now := time.Now()
		return &now
	}
	return nil
}
