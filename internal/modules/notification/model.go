// README: Notification log entries and the event types recorded on the notifications channel.
package notification

import (
	"time"

	"dispatch/internal/types"
)

type Type string

const (
	TypeTripReceived     Type = "tripReceived"
	TypeTripCancelled    Type = "tripCancelled"
	TypeTripPulled       Type = "tripPulled"
	TypeTripReminder     Type = "tripReminder"
	TypeDriverConnection Type = "driverConnection"
)

type Entry struct {
	ID         string         `json:"id,omitempty"`
	Type       Type           `json:"type"`
	TripID     types.ID       `json:"tripId,omitempty"`
	DriverID   types.ID       `json:"driverId,omitempty"`
	Connection *bool          `json:"connection,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
