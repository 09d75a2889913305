package fanout

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
)

// Registry tracks connected clients and their (symbol, timeframe)
// subscriptions. A single mutex guards both maps; broadcast snapshots the
// recipient set under the lock and performs the sends after releasing it,
// so a slow client never stalls registry writes.
type Registry struct {
	mu     sync.Mutex
	logger zerolog.Logger

	conns map[*Client]struct{}
	subs  map[Subscription]map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		conns:  make(map[*Client]struct{}),
		subs:   make(map[Subscription]map[*Client]struct{}),
	}
}

// Connect registers a client.
func (r *Registry) Connect(c *Client) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	total := len(r.conns)
	r.mu.Unlock()

	metrics.CurrentConnections.Set(float64(total))
	metrics.TotalConnections.Inc()
	r.logger.Info().Str("remote", c.remote).Int("connections", total).Msg("Client connected")
}

// Disconnect removes a client from the connection set. Subscription
// removal is the session's responsibility before disconnecting.
func (r *Registry) Disconnect(c *Client) {
	r.mu.Lock()
	delete(r.conns, c)
	total := len(r.conns)
	r.mu.Unlock()

	metrics.CurrentConnections.Set(float64(total))
	r.logger.Info().Str("remote", c.remote).Int("connections", total).Msg("Client disconnected")
}

// Subscribe adds the client under the subscription key. A coarse
// subscription also registers the shadow 1-second subscription for the
// same symbol. Idempotent.
func (r *Registry) Subscribe(c *Client, sub Subscription) {
	r.mu.Lock()
	r.add(sub, c)
	if sub.RequiresOneSecond() {
		r.add(sub.AsOneSecond(), c)
	}
	keys := len(r.subs)
	r.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(keys))
	r.logger.Info().Str("remote", c.remote).Stringer("subscription", sub).Msg("Subscribed")
}

// Unsubscribe removes the client from the subscription key. The shadow
// 1-second subscription is dropped too unless the client is moving to
// another coarse subscription (next non-nil and not 1-second), in which
// case the shadow stays alive for the replacement.
func (r *Registry) Unsubscribe(c *Client, sub Subscription, next *Subscription) {
	r.mu.Lock()
	r.remove(sub, c)
	if next == nil || !next.RequiresOneSecond() {
		r.remove(sub.AsOneSecond(), c)
	}
	keys := len(r.subs)
	r.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(keys))
	r.logger.Info().Str("remote", c.remote).Stringer("subscription", sub).Msg("Unsubscribed")
}

// Broadcast routes one raw candle payload to every client subscribed to
// its (symbol, timeframe) key. Clients that repeatedly fail to keep up are
// disconnected with a policy-violation close.
func (r *Registry) Broadcast(payload []byte) error {
	sub, err := broadcastKey(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	set, ok := r.subs[sub]
	var recipients []*Client
	if ok {
		recipients = make([]*Client, 0, len(set))
		for c := range set {
			recipients = append(recipients, c)
		}
	}
	r.mu.Unlock()

	if len(recipients) == 0 {
		return nil
	}

	for _, c := range recipients {
		sent, tooSlow := c.trySend(payload)
		if sent {
			metrics.BroadcastsSent.Inc()
			continue
		}
		metrics.BroadcastsDropped.Inc()
		if tooSlow {
			metrics.SlowClientsDisconnected.Inc()
			r.logger.Warn().Str("remote", c.remote).Msg("Disconnecting slow client")
			c.closeSlow()
		}
	}

	r.logger.Debug().
		Stringer("subscription", sub).
		Int("recipients", len(recipients)).
		Msg("Broadcast candle")
	return nil
}

// broadcastKey extracts the routing key from a candle payload. The payload
// shape is the CandleMessage the aggregator publishes, which is a superset
// of a subscription message.
func broadcastKey(payload []byte) (Subscription, error) {
	sub, err := ParseSubscription(payload)
	if err != nil {
		return Subscription{}, fmt.Errorf("candle payload: %w", err)
	}
	return sub, nil
}

// Connections returns the current connection count.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll force-closes every connected client. Used on shutdown after the
// drain grace period expires.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.conns))
	for c := range r.conns {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (r *Registry) add(sub Subscription, c *Client) {
	set, ok := r.subs[sub]
	if !ok {
		set = make(map[*Client]struct{})
		r.subs[sub] = set
	}
	set[c] = struct{}{}
}

func (r *Registry) remove(sub Subscription, c *Client) {
	set, ok := r.subs[sub]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.subs, sub)
	}
}
