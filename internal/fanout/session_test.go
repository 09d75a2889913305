package fanout

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leon-cv/Real-Time-Chart/internal/timeframe"
)

func startTestSession(t *testing.T, pongWait, pingPeriod time.Duration) (*Registry, net.Conn, chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	reg := NewRegistry(zerolog.Nop())
	s := newSession(newClient(1, serverConn), reg, zerolog.Nop())
	s.pongWait = pongWait
	s.pingPeriod = pingPeriod

	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()
	return reg, clientConn, done
}

// A broadcast-only client sends one subscription and then nothing but pong
// replies to the server's pings. It must stay connected indefinitely.
func TestSessionStaysAliveOnPongsAlone(t *testing.T) {
	pongWait := 200 * time.Millisecond
	reg, clientConn, done := startTestSession(t, pongWait, 50*time.Millisecond)

	require.NoError(t, wsutil.WriteClientMessage(clientConn, ws.OpText,
		[]byte(`{"symbol":"BTC-USD","timeframe":{"size":1,"unit":"second"}}`)))

	// Reading server data answers pings with pongs and otherwise blocks;
	// the client never sends another data frame.
	go func() {
		for {
			if _, _, err := wsutil.ReadServerData(clientConn); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
		t.Fatal("session ended for a client that was answering pings")
	case <-time.After(4 * pongWait):
	}

	assert.Equal(t, 1, reg.subscribers(secondSub("BTC-USD")))

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not end after the connection closed")
	}
	assert.Equal(t, 0, reg.subscribers(secondSub("BTC-USD")))
}

// A client that stops answering pings is dropped once the read deadline
// lapses.
func TestSessionDropsUnresponsiveClient(t *testing.T) {
	_, _, done := startTestSession(t, 100*time.Millisecond, 30*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unresponsive client was never disconnected")
	}
}

// An invalid subscription message terminates the session.
func TestSessionClosesOnInvalidSubscription(t *testing.T) {
	reg, clientConn, done := startTestSession(t, time.Second, time.Second)

	go func() {
		for {
			if _, _, err := wsutil.ReadServerData(clientConn); err != nil {
				return
			}
		}
	}()

	require.NoError(t, wsutil.WriteClientMessage(clientConn, ws.OpText,
		[]byte(`{"symbol":"","timeframe":{"size":1,"unit":"second"}}`)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session survived an invalid subscription")
	}
	assert.Equal(t, 0, reg.Connections())
}

// Re-subscribing moves the client to the new key and keeps the shadow
// alive across a coarse-to-coarse switch.
func TestSessionResubscribe(t *testing.T) {
	reg, clientConn, done := startTestSession(t, time.Second, time.Second)

	go func() {
		for {
			if _, _, err := wsutil.ReadServerData(clientConn); err != nil {
				return
			}
		}
	}()

	require.NoError(t, wsutil.WriteClientMessage(clientConn, ws.OpText,
		[]byte(`{"symbol":"BTC-USD","timeframe":{"size":1,"unit":"minute"}}`)))
	require.NoError(t, wsutil.WriteClientMessage(clientConn, ws.OpText,
		[]byte(`{"symbol":"BTC-USD","timeframe":{"size":5,"unit":"minute"}}`)))

	fiveMinute := Subscription{Symbol: "BTC-USD", Timeframe: timeframe.Window{Size: 5, Unit: timeframe.Minute}}
	require.Eventually(t, func() bool {
		return reg.subscribers(fiveMinute) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, reg.subscribers(minuteSub("BTC-USD")))
	assert.Equal(t, 1, reg.subscribers(secondSub("BTC-USD")))

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not end after the connection closed")
	}
}
