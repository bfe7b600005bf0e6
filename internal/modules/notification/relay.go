// README: Customer chat relay publishing messages to the bot service over NATS.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"dispatch/internal/types"
)

type RelayMessage struct {
	CustomerID types.ID  `json:"customerId"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

// NATSRelay hands customer messages to the chat-bot service.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	log     logrus.FieldLogger
}

func NewNATSRelay(nc *nats.Conn, subject string, log logrus.FieldLogger) *NATSRelay {
	return &NATSRelay{nc: nc, subject: subject, log: log}
}

func (r *NATSRelay) SendToCustomer(ctx context.Context, customerID types.ID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(RelayMessage{CustomerID: customerID, Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := r.nc.Publish(r.subject, b); err != nil {
		return fmt.Errorf("nats publish %s: %w", r.subject, err)
	}
	r.log.WithFields(logrus.Fields{"subject": r.subject, "customer_id": customerID}).Debug("relay published")
	return nil
}

// LogRelay stands in for the chat relay when NATS is not configured.
type LogRelay struct {
	log logrus.FieldLogger
}

func NewLogRelay(log logrus.FieldLogger) *LogRelay {
	return &LogRelay{log: log}
}

func (r *LogRelay) SendToCustomer(_ context.Context, customerID types.ID, text string) error {
	r.log.WithFields(logrus.Fields{"customer_id": customerID, "text": text}).Info("customer message (not relayed)")
	return nil
}
