// README: Trip aggregate, lifecycle partitions, and per-trip state markers.
package trip

import (
	"time"

	"dispatch/internal/types"
)

type Partition string

const (
	PartitionNone    Partition = ""
	PartitionPending Partition = "pending"
	PartitionReady   Partition = "ready"
	PartitionOngoing Partition = "ongoing"
)

// AllowedTransitions represents the in-flight partition flow as code.
// Leaving the store (completion, cancellation) is allowed from every partition.
var AllowedTransitions = map[Partition][]Partition{
	PartitionPending: {PartitionReady},
	PartitionReady:   {PartitionOngoing, PartitionPending},
	PartitionOngoing: {PartitionPending},
}

func CanTransition(from, to Partition) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, p := range next {
		if p == to {
			return true
		}
	}
	return false
}

type Status string

// Final statuses recorded by the persistence gateway.
const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type CustomerRef struct {
	ID       types.ID       `json:"id"`
	Name     string         `json:"name,omitempty"`
	Phone    string         `json:"phone,omitempty"`
	Address  string         `json:"address,omitempty"`
	Location types.Location `json:"location"`
}

type VendorRef struct {
	ID       types.ID       `json:"id"`
	Name     string         `json:"name,omitempty"`
	Address  string         `json:"address,omitempty"`
	Location types.Location `json:"location"`
}

// Marker is a write-once timestamped position on the trip timeline.
type Marker struct {
	Time     time.Time      `json:"time"`
	Location types.Location `json:"location"`
}

// State holds the trip timeline. Alternative trips never set OnVendor/LeftVendor.
type State struct {
	TripStart  *Marker  `json:"tripStart,omitempty"`
	OnVendor   *Marker  `json:"onVendor,omitempty"`
	LeftVendor *Marker  `json:"leftVendor,omitempty"`
	WayPoints  []Marker `json:"wayPoints,omitempty"`
	TripEnd    *Marker  `json:"tripEnd,omitempty"`
}

// Billable reports whether motion should now be recorded on the raw path.
// Normal trips start billing at the vendor visit, alternative trips at
// their first waypoint.
func (s State) Billable(alternative bool) bool {
	if alternative {
		return len(s.WayPoints) > 0
	}
	return s.OnVendor != nil
}

type Discounts struct {
	Item     float64 `json:"item"`
	Delivery float64 `json:"delivery"`
}

func (d *Discounts) Any() bool {
	return d != nil && (d.Item > 0 || d.Delivery > 0)
}

type ReceiptLine struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type Trip struct {
	ID             types.ID            `json:"tripId"`
	DriverID       *types.ID           `json:"driverId"`
	Customer       CustomerRef         `json:"customer"`
	Vendor         *VendorRef          `json:"vendor,omitempty"`
	VehicleNumber  string              `json:"vehicleNumber"`
	VehicleClass   string              `json:"vehicleClass"`
	Alternative    bool                `json:"alternative"`
	ItemTypes      []string            `json:"itemTypes"`
	State          State               `json:"tripState"`
	RawPath        []types.Coordinates `json:"rawPath"`
	UnpaidPath     []types.Coordinates `json:"unpaidPath"`
	MatchedPath    []types.Coordinates `json:"matchedPath"`
	RoutedPath     []types.Coordinates `json:"routedPath"`
	Distance       float64             `json:"distance"`
	UnpaidDistance float64             `json:"unpaidDistance"`
	ElapsedSeconds float64             `json:"elapsedSeconds"`
	Price          int64               `json:"price"`
	ItemPrice      int64               `json:"itemPrice"`
	FixedPrice     int64               `json:"fixedPrice"`
	Discounts      *Discounts          `json:"discounts,omitempty"`
	Receipt        []ReceiptLine       `json:"receipt"`
	Reason         *string             `json:"reason"`
	SchedulingDate *time.Time          `json:"schedulingDate"`
	TripNumber     int64               `json:"tripNumber"`
	Status         Status              `json:"status"`
	CreatedAt      time.Time           `json:"createdAt"`
}

func (t *Trip) AssignedTo(driverID types.ID) bool {
	return t.DriverID != nil && *t.DriverID == driverID
}

// AppendMotion records a location update on the unpaid or raw path depending
// on whether the billable phase has started.
func (t *Trip) AppendMotion(c types.Coordinates) {
	if t.State.Billable(t.Alternative) {
		t.RawPath = append(t.RawPath, c)
		return
	}
	t.UnpaidPath = append(t.UnpaidPath, c)
}

// resetInFlight makes a trip returning to pending look freshly unassigned.
// Vendor, item price, discounts and fixed price are order inputs and stay.
func (t *Trip) resetInFlight() {
	t.DriverID = nil
	t.RawPath = nil
	t.UnpaidPath = nil
	t.MatchedPath = nil
	t.RoutedPath = nil
	t.State = State{}
	t.Distance = 0
	t.UnpaidDistance = 0
	t.ElapsedSeconds = 0
	t.Price = 0
	t.Receipt = nil
}

// Clone returns a deep copy so callers never hold references into the store.
func (t *Trip) Clone() Trip {
	c := *t
	if t.DriverID != nil {
		id := *t.DriverID
		c.DriverID = &id
	}
	if t.Vendor != nil {
		v := *t.Vendor
		c.Vendor = &v
	}
	if t.Discounts != nil {
		d := *t.Discounts
		c.Discounts = &d
	}
	if t.Reason != nil {
		r := *t.Reason
		c.Reason = &r
	}
	if t.SchedulingDate != nil {
		s := *t.SchedulingDate
		c.SchedulingDate = &s
	}
	c.ItemTypes = append([]string(nil), t.ItemTypes...)
	c.Receipt = append([]ReceiptLine(nil), t.Receipt...)
	c.RawPath = types.ClonePath(t.RawPath)
	c.UnpaidPath = types.ClonePath(t.UnpaidPath)
	c.MatchedPath = types.ClonePath(t.MatchedPath)
	c.RoutedPath = types.ClonePath(t.RoutedPath)
	c.State = t.State.clone()
	return c
}

func (s State) clone() State {
	c := State{WayPoints: append([]Marker(nil), s.WayPoints...)}
	c.TripStart = cloneMarker(s.TripStart)
	c.OnVendor = cloneMarker(s.OnVendor)
	c.LeftVendor = cloneMarker(s.LeftVendor)
	c.TripEnd = cloneMarker(s.TripEnd)
	return c
}

func cloneMarker(m *Marker) *Marker {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Snapshot lists every in-flight trip by partition in insertion order.
type Snapshot struct {
	Pending []Trip `json:"pendingTrips"`
	Ready   []Trip `json:"readyTrips"`
	Ongoing []Trip `json:"ongoingTrips"`
}
