// Package stream runs the consume, dispatch, acknowledge loop over a
// JetStream pull consumer. Delivery is at least once: a handler error nacks
// the message and the server redelivers it after the ack wait.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
)

const fetchTimeout = 5 * time.Second

// Message is one in-flight delivery.
type Message interface {
	Data() []byte
	Ack() error
	Nak() error
}

// Source yields messages one at a time. Next blocks until a message
// arrives, the context ends, or the source fails. A nil message with a nil
// error means "nothing right now, poll again".
type Source interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Handler processes one payload. Returning an error triggers a nack.
type Handler func(ctx context.Context, data []byte) error

// Worker pumps a Source into a Handler on a single goroutine.
type Worker struct {
	name    string
	source  Source
	handler Handler
	logger  zerolog.Logger

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewWorker builds a stream worker. name labels logs and metrics.
func NewWorker(name string, source Source, handler Handler, logger zerolog.Logger) *Worker {
	return &Worker{
		name:    name,
		source:  source,
		handler: handler,
		logger:  logger.With().Str("worker", name).Logger(),
	}
}

// Start launches the message loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		w.loop(ctx)
	}()
	w.logger.Info().Msg("Stream worker started")
}

// Stop cancels the loop, waits for the in-flight message to finish, and
// closes the source.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.done.Wait()
	if err := w.source.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("Source close failed")
	}
	w.logger.Info().Msg("Stream worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("Fetch failed")
			continue
		}
		if msg == nil {
			continue
		}

		metrics.MessagesConsumed.WithLabelValues(w.name).Inc()
		w.dispatch(ctx, msg)
	}
}

// dispatch runs the handler and settles the message. Ack and nack failures
// are logged only: the broker redelivers after the ack wait either way.
func (w *Worker) dispatch(ctx context.Context, msg Message) {
	if err := w.handler(ctx, msg.Data()); err != nil {
		w.logger.Error().Err(err).Msg("Message processing failed")
		metrics.MessagesNacked.WithLabelValues(w.name).Inc()
		if nakErr := msg.Nak(); nakErr != nil {
			w.logger.Warn().Err(nakErr).Msg("Nak failed")
		}
		return
	}

	metrics.MessagesAcked.WithLabelValues(w.name).Inc()
	if err := msg.Ack(); err != nil {
		w.logger.Warn().Err(err).Msg("Ack failed")
	}
}

// natsSource adapts a JetStream pull subscription to Source.
type natsSource struct {
	sub *nats.Subscription
}

// NewNATSSource wraps a pull subscription.
func NewNATSSource(sub *nats.Subscription) Source {
	return &natsSource{sub: sub}
}

func (s *natsSource) Next(ctx context.Context) (Message, error) {
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	msgs, err := s.sub.Fetch(1, nats.Context(fctx))
	if err != nil {
		// An empty poll interval is not an error.
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return natsMessage{msg: msgs[0]}, nil
}

func (s *natsSource) Close() error {
	return s.sub.Unsubscribe()
}

type natsMessage struct {
	msg *nats.Msg
}

func (m natsMessage) Data() []byte { return m.msg.Data }
func (m natsMessage) Ack() error   { return m.msg.Ack() }
func (m natsMessage) Nak() error   { return m.msg.Nak() }
