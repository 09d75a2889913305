package fanout

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/leon-cv/Real-Time-Chart/internal/metrics"
)

// ServerConfig holds the admission knobs for the WebSocket server.
type ServerConfig struct {
	Addr           string
	MaxConnections int

	RateLimitEnabled bool
	IPBurst          int
	IPRate           float64
	GlobalBurst      int
	GlobalRate       float64

	// Grace period for clients to finish on shutdown before connections
	// are force-closed.
	DrainTimeout time.Duration
}

// Server accepts WebSocket clients, admits them past the rate limiter and
// the connection cap, and hands each one to a session.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	logger   zerolog.Logger

	httpServer *http.Server
	limiter    *connLimiter
	slots      chan struct{}

	nextClientID atomic.Int64
	shuttingDown atomic.Bool
}

// NewServer wires a server over the given registry.
func NewServer(cfg ServerConfig, registry *Registry, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "ws_server").Logger(),
		slots:    make(chan struct{}, cfg.MaxConnections),
	}
	if cfg.RateLimitEnabled {
		s.limiter = newConnLimiter(connLimiterConfig{
			IPBurst:     cfg.IPBurst,
			IPRate:      cfg.IPRate,
			GlobalBurst: cfg.GlobalBurst,
			GlobalRate:  cfg.GlobalRate,
		}, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// Start begins serving. It returns when the listener stops; a clean
// shutdown yields nil.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.cfg.Addr).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("WebSocket server listening")

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops admitting connections, waits up to the drain timeout for
// clients to leave, then force-closes the rest.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)
	s.logger.Info().Msg("Draining WebSocket connections")

	deadline := time.Now().Add(s.cfg.DrainTimeout)
	for time.Now().Before(deadline) {
		if s.registry.Connections() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			deadline = time.Now()
		case <-time.After(250 * time.Millisecond):
		}
	}

	if remaining := s.registry.Connections(); remaining > 0 {
		s.logger.Warn().Int("remaining", remaining).Msg("Force-closing connections after drain timeout")
		s.registry.CloseAll()
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	select {
	case s.slots <- struct{}{}:
	default:
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.slots
		s.logger.Debug().Err(err).Msg("Upgrade failed")
		return
	}

	client := newClient(s.nextClientID.Add(1), conn)
	go func() {
		defer func() { <-s.slots }()
		newSession(client, s.registry, s.logger).run()
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","connections":%d}`, s.registry.Connections())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
