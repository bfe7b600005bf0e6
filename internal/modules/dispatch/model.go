// README: Dispatch commands, collaborator ports, channel events, and error taxonomy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatch/internal/modules/location"
	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/pathmatch"
	"dispatch/internal/modules/persistence"
	"dispatch/internal/modules/trip"
	"dispatch/internal/types"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrBadRequest   = errors.New("bad request")
	ErrForbidden    = errors.New("forbidden")
	ErrUpstream     = errors.New("upstream failure")
	ErrPersistence  = errors.New("persistence failure")
)

func notFound(kind string, id types.ID) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrBadRequest)
}

// Events on the admin channel.
const (
	EventOnConnection     = "onConnection"
	EventTripUpdate       = "tripUpdate"
	EventDriverConnection = "driverConnection"
	EventLocation         = "location"
)

// Events on a driver's own channel.
const (
	EventNewTrip             = "newTrip"
	EventTripPulled          = "tripPulled"
	EventTripCancelled       = "tripCancelled"
	EventAvailabilityChange  = "availabilityChange"
	EventAlreadyAssignedTrip = "alreadyAssignedTrip"
)

// Broadcaster is the realtime transport: named topics plus unicast by channel handle.
type Broadcaster interface {
	Publish(topic, event string, data any)
	SendTo(handle, event string, data any)
	Subscribe(handle, topic string)
}

type PathMatcher interface {
	Match(ctx context.Context, path []types.Coordinates, vehicleClass string) (pathmatch.Result, error)
}

type Pricer interface {
	Price(distanceMeters float64, vehicleClass string) int64
}

type PersistenceGateway interface {
	SaveTrip(ctx context.Context, t trip.Trip) (int64, error)
	UpdateTrip(ctx context.Context, t trip.Trip) error
	UpdateLocation(ctx context.Context, kind persistence.EntityKind, id types.ID, loc types.Location) error
}

type NotificationSender interface {
	Send(ctx context.Context, driverID types.ID, title, body string) error
	SendOperators(ctx context.Context, title, body string) error
}

type MessageRelay interface {
	SendToCustomer(ctx context.Context, customerID types.ID, text string) error
}

type NotificationLog interface {
	Append(ctx context.Context, e notification.Entry) (string, error)
}

type LocationMirror interface {
	Upsert(ctx context.Context, id types.ID, c types.Coordinates) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, origin types.Coordinates, radiusKm float64) ([]location.NearbyDriver, error)
}

type Geocoder interface {
	Resolve(ctx context.Context, address string) (types.Location, error)
}

// ReminderGuard claims the right to send one reminder per key.
type ReminderGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type SubmitCommand struct {
	TripID         types.ID
	Customer       trip.CustomerRef
	Vendor         *trip.VendorRef
	VehicleNumber  string
	VehicleClass   string
	Alternative    bool
	ItemTypes      []string
	ItemPrice      int64
	FixedPrice     int64
	Discounts      *trip.Discounts
	RoutedPath     []types.Coordinates
	SchedulingDate *time.Time
}

type WayPointCommand struct {
	TripID   types.ID
	Location types.Location
	Time     time.Time
	// AtCustomer marks a stop at the customer's door.
	AtCustomer bool
}

type StateName string

const (
	StateOnVendor   StateName = "onVendor"
	StateLeftVendor StateName = "leftVendor"
)

type ChangeStateCommand struct {
	TripID   types.ID
	Name     StateName
	Location types.Location
	Time     time.Time
}

type EndType string

const (
	EndDelivered EndType = "delivered"
	EndFailed    EndType = "failed"
	// EndReturned is a failed delivery attempt; the trip goes back to pending.
	EndReturned EndType = "returned"
)

type EndTripCommand struct {
	TripID    types.ID
	Receipt   []trip.ReceiptLine
	ItemPrice int64
	Location  types.Location
	Type      EndType
	Time      time.Time
	Reason    string
}

type CompletionResult struct {
	Trip      trip.Trip     `json:"trip"`
	Elapsed   time.Duration `json:"elapsed"`
	Matched   bool          `json:"matched"`
	Persisted bool          `json:"persisted"`
}

type OnConnection struct {
	OnlineDrivers []DriverView `json:"onlineDrivers"`
	trip.Snapshot
}

type DriverView struct {
	ID         types.ID          `json:"driverId"`
	Location   types.Coordinates `json:"location"`
	Available  bool              `json:"available"`
	Connected  bool              `json:"connected"`
	LastSeenAt time.Time         `json:"lastSeenAt"`
}

type LocationEvent struct {
	DriverID types.ID          `json:"driverId"`
	Location types.Coordinates `json:"location"`
	Geohash  string            `json:"geohash"`
}

type EntityEvent struct {
	ID       types.ID        `json:"id"`
	Location *types.Location `json:"location,omitempty"`
	Data     any             `json:"data,omitempty"`
}
