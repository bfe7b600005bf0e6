// README: Websocket wire envelopes and channel names.
package ws

import "encoding/json"

const (
	TopicAdmin         = "admin"
	TopicNotifications = "notifications"
)

const (
	RoleDriver   = "driver"
	RoleOperator = "operator"
)

// Message is an inbound frame. ID is echoed on the reply when set.
type Message struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is every frame the server writes.
type Outbound struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Reply is the acknowledgement sent back to the originating client only.
type Reply struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
