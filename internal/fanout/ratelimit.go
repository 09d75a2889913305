package fanout

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const ipLimiterTTL = 5 * time.Minute

// connLimiter rate-limits connection attempts with a global token bucket
// plus one bucket per source IP. Stale per-IP buckets are reclaimed
// periodically.
type connLimiter struct {
	global *rate.Limiter

	mu      sync.Mutex
	perIP   map[string]*ipEntry
	ipRate  rate.Limit
	ipBurst int

	logger zerolog.Logger
	stop   chan struct{}
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type connLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	GlobalBurst int
	GlobalRate  float64
}

func newConnLimiter(cfg connLimiterConfig, logger zerolog.Logger) *connLimiter {
	l := &connLimiter{
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		perIP:   make(map[string]*ipEntry),
		ipRate:  rate.Limit(cfg.IPRate),
		ipBurst: cfg.IPBurst,
		logger:  logger.With().Str("component", "conn_limiter").Logger(),
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// allow reports whether a connection attempt from ip may proceed. The
// global bucket is checked first so a distributed flood is rejected before
// any per-IP bookkeeping.
func (l *connLimiter) allow(ip string) bool {
	if !l.global.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected by global rate limit")
		return false
	}
	if !l.ipLimiter(ip).Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected by per-IP rate limit")
		return false
	}
	return true
}

func (l *connLimiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *connLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-ipLimiterTTL)
			for ip, entry := range l.perIP {
				if entry.lastSeen.Before(cutoff) {
					delete(l.perIP, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *connLimiter) Stop() {
	close(l.stop)
}
