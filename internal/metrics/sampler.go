package metrics

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// StartSampler periodically samples process CPU and memory into the
// Prometheus gauges and logs a heartbeat line. It returns once ctx is
// cancelled.
func StartSampler(ctx context.Context, logger zerolog.Logger, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("Process sampler disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpuPct, err := proc.CPUPercent()
			if err == nil {
				ProcessCPUPercent.Set(cpuPct)
			}
			var rss uint64
			if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
				rss = mem.RSS
				ProcessMemoryBytes.Set(float64(rss))
			}
			logger.Debug().
				Float64("cpu_percent", cpuPct).
				Uint64("rss_bytes", rss).
				Msg("Process sample")
		}
	}
}
