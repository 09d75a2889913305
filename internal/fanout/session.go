package fanout

import (
	"bufio"
	"io"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	pongWait   = 30 * time.Second
	pingPeriod = 27 * time.Second
	writeWait  = 5 * time.Second
)

// session drives one client connection: a read loop that manages the
// client's single subscription and a write pump that flushes broadcasts.
type session struct {
	client   *Client
	registry *Registry
	logger   zerolog.Logger

	// Liveness intervals, overridable in tests.
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newSession(client *Client, registry *Registry, logger zerolog.Logger) *session {
	return &session{
		client:     client,
		registry:   registry,
		logger:     logger.With().Str("remote", client.remote).Logger(),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// run blocks until the connection is gone. The write pump runs on its own
// goroutine; the read loop runs here.
func (s *session) run() {
	s.registry.Connect(s.client)
	go s.writePump()
	s.readLoop()
}

// readLoop consumes subscription messages. Each client holds at most one
// subscription at a time; a new subscription replaces the current one. Any
// malformed message closes the connection, and the deferred cleanup drops
// whatever subscription is active.
//
// Frames are read one at a time so control frames count toward liveness:
// after the initial subscription a healthy client only ever answers pings,
// so the read deadline must be refreshed on pongs, not just data.
func (s *session) readLoop() {
	c := s.client
	var current *Subscription

	defer func() {
		if current != nil {
			s.registry.Unsubscribe(c, *current, nil)
		}
		s.registry.Disconnect(c)
		c.close()
	}()

	control := wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)
	reader := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		OnIntermediate: control,
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(s.pongWait))

	for {
		hdr, err := reader.NextFrame()
		if err != nil {
			s.logger.Debug().Err(err).Msg("Read ended")
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.pongWait))

		if hdr.OpCode.IsControl() {
			// Answers pings, discards pongs, turns close frames into an
			// error on the next read.
			if err := control(hdr, reader); err != nil {
				s.logger.Debug().Err(err).Msg("Read ended")
				return
			}
			continue
		}

		msg, err := io.ReadAll(reader)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Read ended")
			return
		}
		if hdr.OpCode != ws.OpText {
			continue
		}

		next, err := ParseSubscription(msg)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rejecting invalid subscription")
			return
		}
		if current != nil && *current == next {
			continue
		}
		if current != nil {
			s.registry.Unsubscribe(c, *current, &next)
		}
		current = &next
		s.registry.Subscribe(c, next)
	}
}

// writePump batches queued messages into one flush and keeps the
// connection alive with periodic pings.
func (s *session) writePump() {
	c := s.client
	writer := bufio.NewWriter(c.conn)
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
				s.logger.Debug().Err(err).Msg("Write failed")
				return
			}

			// Drain whatever else is queued into the same flush.
			n := len(c.send)
			for i := 0; i < n; i++ {
				message = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
					s.logger.Debug().Err(err).Msg("Write failed")
					return
				}
			}

			if err := writer.Flush(); err != nil {
				s.logger.Debug().Err(err).Msg("Flush failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
