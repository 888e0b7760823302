package money

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RefresherConfig holds refresher configuration.
type RefresherConfig struct {
	Interval time.Duration // Reload interval (default: 15m)
	Timeout  time.Duration // Per-reload timeout (default: 10s)
}

// DefaultRefresherConfig returns sensible defaults.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval: 15 * time.Minute,
		Timeout:  10 * time.Second,
	}
}

// Refresher periodically reloads the currency table from the relational
// store so new listings become resolvable without a restart.
type Refresher struct {
	cfg    RefresherConfig
	db     querier
	table  *Table
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a Refresher over an already-loaded table.
func NewRefresher(cfg RefresherConfig, db querier, table *Table, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		cfg:    cfg,
		db:     db,
		table:  table,
		logger: logger,
	}
}

// Start begins the reload loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("currency refresher started", "interval", r.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the refresher.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("currency refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reload()
		}
	}
}

// reload fetches the current rows and swaps them in. A failed reload
// keeps the previous table; the service stays up on stale data.
func (r *Refresher) reload() {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	currencies, err := queryCurrencies(ctx, r.db)
	if err != nil {
		r.logger.Warn("currency reload failed", "error", err)
		return
	}
	if err := r.table.Replace(currencies); err != nil {
		r.logger.Warn("currency reload rejected", "error", err)
		return
	}
	r.logger.Debug("currency table reloaded", "currencies", len(currencies))
}
