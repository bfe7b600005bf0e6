// README: Driver session entity tracked by the online registry.
package driver

import (
	"time"

	"dispatch/internal/types"
)

type Driver struct {
	ID types.ID `json:"driverId"`
	// ChannelHandle addresses the driver's socket; empty while disconnected.
	ChannelHandle string            `json:"-"`
	Location      types.Coordinates `json:"location"`
	Available     bool              `json:"available"`
	LastSeenAt    time.Time         `json:"lastSeenAt"`
}

func (d Driver) Connected() bool {
	return d.ChannelHandle != ""
}

type ChangeKind string

const (
	ChangeConnected    ChangeKind = "connected"
	ChangeDisconnected ChangeKind = "disconnected"
	ChangeLocation     ChangeKind = "location"
	ChangeAvailability ChangeKind = "availability"
	ChangeLogout       ChangeKind = "logout"
)

// Change describes one committed registry mutation.
type Change struct {
	Kind   ChangeKind
	Driver Driver
}
