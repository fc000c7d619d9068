package jobs

import (
	"context"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"atms/identity/internal/metrics"
)

const sweepTickerID = 1

type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// GrantSweep periodically marks lapsed sharing grants as expired. Access
// checks already reject them by expiration; the sweep keeps the stored
// status honest for listings.
type GrantSweep struct {
	grants   Sweeper
	clock    abtime.AbstractTime
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewGrantSweep(grants Sweeper, clock abtime.AbstractTime, interval, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *GrantSweep {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GrantSweep{grants: grants, clock: clock, interval: interval, timeout: timeout, log: log, metrics: m}
}

// Serve runs until ctx is done. It satisfies suture.Service.
func (j *GrantSweep) Serve(ctx context.Context) error {
	ticker := j.clock.NewTicker(j.interval, sweepTickerID)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Channel():
			_, _ = j.RunOnce(ctx)
		}
	}
}

func (j *GrantSweep) RunOnce(ctx context.Context) (int, error) {
	tickCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	n, err := j.grants.SweepExpired(tickCtx)
	if err != nil {
		j.log.Warn("grant sweep failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		j.metrics.GrantsExpired(n)
		j.log.Info("grant sweep expired grants", zap.Int("count", n))
	}
	return n, nil
}

func (j *GrantSweep) String() string { return "grant-sweep" }
