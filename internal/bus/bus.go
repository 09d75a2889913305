// Package bus wraps the NATS JetStream plumbing: connecting with sane
// reconnect behavior and provisioning the streams and durable consumers
// the pipeline relies on.
//
// At-least-once mapping: explicit acks, Nak on failure, redelivery after
// AckWait. The trades consumer runs with MaxAckPending 1 so per-symbol
// delivery order survives redelivery (single-active semantics); the OHLC
// consumer is a shared durable that fan-out instances pull from together.
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const ackWait = 30 * time.Second

// Connect establishes a NATS connection and JetStream context. The
// connection retries forever once established; a failure here is fatal
// bootstrap.
func Connect(url, name string, logger zerolog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open JetStream context: %w", err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return nc, js, nil
}

// EnsureStream creates the stream if it does not exist yet. Safe to call
// from every service instance at startup.
func EnsureStream(js nats.JetStreamContext, name string, subjects []string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("stream info %s: %w", name, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

// PullConsumer ensures the durable consumer exists on the stream and binds
// a pull subscription to it. The consumer is provisioned explicitly so the
// library never owns it: an implicitly created consumer is deleted by
// Unsubscribe on shutdown, which would drop the ack floor of the trades
// durable and yank the shared OHLC durable out from under other fan-out
// instances. maxAckPending 1 forces in-order, one-at-a-time delivery; 0
// leaves the server default for shared consumers.
func PullConsumer(js nats.JetStreamContext, stream, subject, durable string, maxAckPending int) (*nats.Subscription, error) {
	if err := ensureConsumer(js, stream, consumerConfig(durable, subject, maxAckPending)); err != nil {
		return nil, err
	}

	sub, err := js.PullSubscribe("", "", nats.Bind(stream, durable))
	if err != nil {
		return nil, fmt.Errorf("bind consumer %s/%s: %w", stream, durable, err)
	}
	return sub, nil
}

func consumerConfig(durable, subject string, maxAckPending int) *nats.ConsumerConfig {
	cfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       ackWait,
	}
	if maxAckPending > 0 {
		cfg.MaxAckPending = maxAckPending
	}
	return cfg
}

// ensureConsumer creates the durable if it does not exist yet. Safe to
// call from every service instance at startup.
func ensureConsumer(js nats.JetStreamContext, stream string, cfg *nats.ConsumerConfig) error {
	_, err := js.ConsumerInfo(stream, cfg.Durable)
	if err == nil {
		return nil
	}
	if err != nats.ErrConsumerNotFound {
		return fmt.Errorf("consumer info %s/%s: %w", stream, cfg.Durable, err)
	}

	if _, err := js.AddConsumer(stream, cfg); err != nil {
		return fmt.Errorf("create consumer %s/%s: %w", stream, cfg.Durable, err)
	}
	return nil
}
