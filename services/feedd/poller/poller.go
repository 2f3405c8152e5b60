// Package poller drives the periodic feed refresh and valuation cycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"valuechain/native/feed"
	"valuechain/native/oracle"
	"valuechain/native/valuation"
	"valuechain/observability"
)

// Manager orchestrates periodic refreshes across the configured assets.
type Manager struct {
	logger    *slog.Logger
	adapter   *feed.Adapter
	valuation *valuation.Engine
	sink      *Sink
	interval  time.Duration
	metrics   *observability.OracleMetrics
	once      sync.Once
}

// New constructs a manager instance. The sink must be the emitter already
// installed on the oracle engine and feed adapter so cycle identifiers line
// up with the emitted events.
func New(adapter *feed.Adapter, val *valuation.Engine, sink *Sink, interval time.Duration, logger *slog.Logger) (*Manager, error) {
	if adapter == nil {
		return nil, fmt.Errorf("feed adapter required")
	}
	if val == nil {
		return nil, fmt.Errorf("valuation engine required")
	}
	if sink == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		adapter:   adapter,
		valuation: val,
		sink:      sink,
		interval:  interval,
		metrics:   observability.Oracle(),
	}, nil
}

// Run blocks, periodically refreshing feeds until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("poller started", "assets", len(m.adapter.Assets()))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("refresh cycle failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single refresh and valuation cycle across all assets.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	cycle := uuid.NewString()
	m.sink.BeginCycle(ctx, cycle)
	start := time.Now()
	accepted, err := m.adapter.UpdateDataSource(ctx)
	m.metrics.ObserveRefresh(time.Since(start))
	if err != nil {
		if errors.Is(err, feed.ErrPaused) {
			m.logger.Info("refresh skipped, adapter paused", "cycle", cycle)
			return nil
		}
		return fmt.Errorf("update data source: %w", err)
	}
	m.logger.Info("refresh complete", "cycle", cycle, "accepted", accepted)
	for _, asset := range m.adapter.Assets() {
		m.processAsset(asset, cycle)
	}
	return nil
}

func (m *Manager) processAsset(asset oracle.AssetID, cycle string) {
	result, err := m.valuation.ProcessValuation(asset)
	if err != nil {
		if errors.Is(err, valuation.ErrInsufficientDataPoints) {
			m.logger.Info("valuation deferred", "cycle", cycle, "asset", asset.String(), "reason", "insufficient data points")
			return
		}
		m.metrics.ValuationFailed()
		m.logger.Warn("valuation failed", "cycle", cycle, "asset", asset.String(), "error", err.Error())
		return
	}
	if !result.Published {
		m.logger.Info("valuation withheld", "cycle", cycle, "asset", asset.String(), "confidence", result.Confidence)
	}
}
