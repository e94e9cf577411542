// Package gasprice keeps a process-wide gas price that a background job
// refreshes on a fixed interval. Readers fall back to a live query when no
// price has been cached yet.
package gasprice

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/metis-devops/metis-checkin/internal/logx"
	"github.com/metis-devops/metis-checkin/internal/metrics"
)

type Source interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

type Cache struct {
	src     Source
	price   atomic.Pointer[big.Int]
	log     logx.Logger
	metrics *metrics.Metrics
}

func New(src Source, log logx.Logger, m *metrics.Metrics) *Cache {
	return &Cache{src: src, log: log.With(logx.String("component", "gasprice")), metrics: m}
}

// Cached returns a copy of the cached price, or nil.
func (c *Cache) Cached() *big.Int {
	if p := c.price.Load(); p != nil {
		return new(big.Int).Set(p)
	}
	return nil
}

// Price returns the cached price, querying the chain when nothing is cached.
func (c *Cache) Price(ctx context.Context) (*big.Int, error) {
	if p := c.Cached(); p != nil {
		return p, nil
	}
	c.log.Debug("no cached gas price, fetching")
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.Cached(), nil
}

// Refresh overwrites the cached price with a fresh query.
func (c *Cache) Refresh(ctx context.Context) error {
	price, err := c.src.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch gas price: %w", err)
	}
	c.price.Store(new(big.Int).Set(price))
	c.metrics.SetGasPrice(price)
	c.log.Debug("gas price updated", logx.Big("wei", price))
	return nil
}

// Run refreshes once, then every interval until ctx is done. Failed
// refreshes keep the previous value.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	refresh := func() {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("gas price refresh failed", logx.Err(err))
		}
	}
	refresh()

	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", interval), refresh); err != nil {
		return fmt.Errorf("schedule gas refresh: %w", err)
	}
	cr.Start()
	c.log.Info("gas price refresher started", logx.Duration("interval", interval))

	<-ctx.Done()
	<-cr.Stop().Done()
	return nil
}

// Apply multiplies price by factor at 1/1000 precision, truncating toward zero.
func Apply(price *big.Int, factor float64) *big.Int {
	permille := big.NewInt(int64(math.Round(factor * 1000)))
	out := new(big.Int).Mul(price, permille)
	return out.Quo(out, big.NewInt(1000))
}
