package producers

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/chrisdamba/venuesim/internal/models"
)

// NatsProducer publishes each topic on the subject "<prefix>.<topic>".
type NatsProducer struct {
	conn   *nats.Conn
	prefix string
}

func NewNatsProducer(config models.NatsConfig) (*NatsProducer, error) {
	opts := []nats.Option{
		nats.Name("venuesim"),
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", config.URL).Msg("NATS connection established")
	return NewNatsProducerFrom(conn, config.SubjectPrefix), nil
}

func NewNatsProducerFrom(conn *nats.Conn, prefix string) *NatsProducer {
	return &NatsProducer{conn: conn, prefix: prefix}
}

func (n *NatsProducer) Subject(topic string) string {
	if n.prefix == "" {
		return topic
	}
	return n.prefix + "." + topic
}

func (n *NatsProducer) WriteMessage(topic string, msg []byte) error {
	if n.conn == nil || n.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if err := n.conn.Publish(n.Subject(topic), msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.Subject(topic), err)
	}
	return nil
}

func (n *NatsProducer) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection, closing immediately")
		n.conn.Close()
	}
	return nil
}
