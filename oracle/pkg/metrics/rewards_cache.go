package metrics

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultTotalRewardsInterval = 10 * time.Minute

// TotalRewardsSource computes the lifetime reward total.
type TotalRewardsSource interface {
	TotalRewards(ctx context.Context) (*big.Int, error)
}

type TotalRewardsCacheConfig struct {
	Logger   *slog.Logger
	Source   TotalRewardsSource
	Clock    clockwork.Clock
	Interval time.Duration
}

func (cfg *TotalRewardsCacheConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTotalRewardsInterval
	}
	return nil
}

// TotalRewardsCache keeps the TotalRewards gauge at most Interval old.
// Concurrent callers that both observe a stale value both recompute; no lock
// is taken.
type TotalRewardsCache struct {
	log *slog.Logger
	cfg TotalRewardsCacheConfig

	// unix nanos of the last successful refresh, 0 if never.
	refreshedAt atomic.Int64
}

func NewTotalRewardsCache(cfg TotalRewardsCacheConfig) (*TotalRewardsCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TotalRewardsCache{log: cfg.Logger, cfg: cfg}, nil
}

// Stale reports whether the gauge is due for a recompute.
func (c *TotalRewardsCache) Stale() bool {
	last := c.refreshedAt.Load()
	if last == 0 {
		return true
	}
	return c.cfg.Clock.Since(time.Unix(0, last)) >= c.cfg.Interval
}

// RefreshIfStale recomputes the gauge when stale. Failures keep the previous
// value and are retried on the next call.
func (c *TotalRewardsCache) RefreshIfStale(ctx context.Context) {
	if !c.Stale() {
		return
	}
	total, err := c.cfg.Source.TotalRewards(ctx)
	if err != nil {
		c.log.Warn("metrics: total rewards refresh failed", "error", err)
		return
	}
	f, _ := new(big.Float).SetInt(total).Float64()
	TotalRewards.Set(f)
	c.refreshedAt.Store(c.cfg.Clock.Now().UnixNano())
}
