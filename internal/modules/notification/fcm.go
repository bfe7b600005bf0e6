// README: Push notification sender backed by Firebase Cloud Messaging topics.
package notification

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"

	"dispatch/internal/types"
)

// OperatorsTopic is the FCM topic operator devices subscribe to.
const OperatorsTopic = "operators"

// FCMSender pushes to per-driver topics ("driver_<id>") so device tokens
// never have to be resolved by the dispatch core.
type FCMSender struct {
	client *messaging.Client
	log    logrus.FieldLogger
}

func NewFCMSender(client *messaging.Client, log logrus.FieldLogger) *FCMSender {
	return &FCMSender{client: client, log: log}
}

func DriverTopic(driverID types.ID) string {
	return "driver_" + string(driverID)
}

func (s *FCMSender) Send(ctx context.Context, driverID types.ID, title, body string) error {
	return s.push(ctx, DriverTopic(driverID), title, body)
}

func (s *FCMSender) SendOperators(ctx context.Context, title, body string) error {
	return s.push(ctx, OperatorsTopic, title, body)
}

func (s *FCMSender) push(ctx context.Context, topic, title, body string) error {
	msg := &messaging.Message{
		Topic: topic,
		Data: map[string]string{
			"title": title,
			"body":  body,
		},
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := s.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", topic, err)
	}
	s.log.WithFields(logrus.Fields{"topic": topic, "message_id": messageID}).Debug("fcm sent")
	return nil
}

// LogSender stands in for FCM when no Firebase project is configured.
type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, driverID types.ID, title, body string) error {
	s.log.WithFields(logrus.Fields{"driver_id": driverID, "title": title, "body": body}).Info("push notification (not delivered)")
	return nil
}

func (s *LogSender) SendOperators(_ context.Context, title, body string) error {
	s.log.WithFields(logrus.Fields{"topic": OperatorsTopic, "title": title, "body": body}).Info("push notification (not delivered)")
	return nil
}
