// README: NATS connection for the customer chat relay.
package infra

import (
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

func NewNATS(url string, log logrus.FieldLogger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("dispatch-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats closed")
		}),
	)
}
