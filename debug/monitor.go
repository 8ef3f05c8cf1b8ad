// Package debug provides runtime monitoring and diagnostics.
package debug

import (
	"context"
	"os"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
)

// Enabled returns true if debug mode is active (MUDLARK_DEBUG=1).
func Enabled() bool {
	return os.Getenv("MUDLARK_DEBUG") == "1"
}

// Monitor periodically logs process statistics when debug mode is enabled.
type Monitor struct {
	interval time.Duration
	ctx      context.Context
	started  time.Time
}

// NewMonitor creates a monitor. Returns nil when debug mode is off.
func NewMonitor(ctx context.Context) *Monitor {
	if !Enabled() {
		return nil
	}
	return &Monitor{
		interval: 5 * time.Second,
		ctx:      ctx,
		started:  time.Now(),
	}
}

// Start begins the monitoring loop in a goroutine. Safe on a nil monitor.
func (m *Monitor) Start() {
	if m == nil {
		return
	}
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Debug("monitor started")
	for {
		select {
		case <-m.ctx.Done():
			log.Debug("monitor stopped")
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			log.WithFields(log.Fields{
				"uptime":     time.Since(m.started).Round(time.Second),
				"goroutines": runtime.NumGoroutine(),
				"heap_kb":    mem.HeapAlloc / 1024,
			}).Debug("stats")
		}
	}
}
