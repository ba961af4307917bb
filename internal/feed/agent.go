package feed

import (
	"context"
	"fmt"
	"time"

	"concierge/pkg/logging"
)

const defaultRefreshInterval = 24 * time.Hour

// AgentConfig configures the background listing refresher.
type AgentConfig struct {
	Interval time.Duration
	Fetcher  *Fetcher
	Logger   logging.Logger
}

// Agent refreshes the jobs snapshot on a fixed interval so digest
// replies serve from a warm cache.
type Agent struct {
	interval time.Duration
	fetcher  *Fetcher
	logger   logging.Logger
}

func NewAgent(cfg AgentConfig) *Agent {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Agent{
		interval: interval,
		fetcher:  cfg.Fetcher,
		logger:   cfg.Logger,
	}
}

// Start runs one refresh immediately, then one per interval until the
// context is cancelled.
func (a *Agent) Start(ctx context.Context) {
	if a == nil {
		return
	}
	a.runCycle(ctx)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

func (a *Agent) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", fmt.Sprint(r)).Error("Jobs refresh cycle panic")
		}
	}()
	items := a.fetcher.Fetch(ctx)
	if len(items) == 0 {
		a.logger.Warn("Jobs refresh cycle returned no items, keeping previous snapshot")
	}
}
