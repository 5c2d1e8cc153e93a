package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/metrics"
)

// publisher is the part of *nats.Conn the forwarder uses
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder publishes every broker event to NATS as JSON on
// "<prefix>.<event type>"
type NATSForwarder struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	logger zerolog.Logger
}

// NewNATSForwarder connects to url. The connection reconnects forever.
func NewNATSForwarder(url, prefix string) (*NATSForwarder, error) {
	logger := log.WithComponent("nats")
	opts := []nats.Option{
		nats.Name("paddock"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	f := newForwarder(nc, prefix)
	f.conn = nc
	return f, nil
}

func newForwarder(pub publisher, prefix string) *NATSForwarder {
	return &NATSForwarder{
		pub:    pub,
		prefix: prefix,
		logger: log.WithComponent("nats"),
	}
}

// Subject returns the NATS subject for an event type
func (f *NATSForwarder) Subject(t EventType) string {
	return f.prefix + "." + string(t)
}

// Forward publishes a single event
func (f *NATSForwarder) Forward(event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := f.pub.Publish(f.Subject(event.Type), payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run forwards events from broker until ctx is cancelled
func (f *NATSForwarder) Run(ctx context.Context, broker *Broker) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			err := f.Forward(event)
			metrics.EventsForwarded.WithLabelValues(metrics.Outcome(err)).Inc()
			if err != nil {
				f.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Event not forwarded")
			}
		}
	}
}

// Close drains and closes the connection
func (f *NATSForwarder) Close() {
	if f.conn != nil {
		_ = f.conn.Drain()
		f.conn.Close()
	}
}
