package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"valuechain/core/events"
	"valuechain/native/feed"
	"valuechain/native/oracle"
	"valuechain/observability"
	"valuechain/services/feedd/storage"
)

// Sink receives engine and adapter events, persisting an audit trail and
// updating metrics. It implements events.Emitter and is safe for concurrent
// use by the poll loop and the admin API.
type Sink struct {
	logger  *slog.Logger
	store   *storage.Storage
	adapter *feed.Adapter
	metrics *observability.OracleMetrics

	mu    sync.RWMutex
	ctx   context.Context
	cycle string
}

// NewSink constructs a sink writing audit rows to store. The adapter is used
// to resolve feed names for observation rows and may be set later.
func NewSink(store *storage.Storage, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		logger:  logger,
		store:   store,
		metrics: observability.Oracle(),
		ctx:     context.Background(),
		cycle:   "manual",
	}
}

// BindAdapter attaches the feed adapter used to resolve feed names.
func (s *Sink) BindAdapter(adapter *feed.Adapter) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.adapter = adapter
	s.mu.Unlock()
}

// BeginCycle tags subsequent events with the given cycle identifier. Events
// emitted outside a poll cycle (e.g. admin submissions) carry the "manual"
// cycle.
func (s *Sink) BeginCycle(ctx context.Context, cycle string) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.ctx = ctx
	s.cycle = cycle
	s.mu.Unlock()
}

func (s *Sink) snapshot() (context.Context, string, *feed.Adapter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx, s.cycle, s.adapter
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	ctx, cycle, adapter := s.snapshot()
	now := time.Now()
	switch e := evt.(type) {
	case events.DataPointReceived:
		asset := oracle.AssetID(e.Asset)
		s.metrics.SubmissionAccepted(asset.String())
		feedName := "direct"
		if adapter != nil {
			if src, ok := adapter.Feed(asset); ok {
				feedName = src.Name()
			}
		}
		price := ""
		if e.Price != nil {
			price = e.Price.String()
		}
		obs := storage.Observation{
			CycleID:    cycle,
			Asset:      asset.String(),
			Feed:       feedName,
			Price:      price,
			Confidence: e.Confidence,
			ObservedAt: time.Unix(e.Timestamp, 0),
			RecordedAt: now,
		}
		if err := s.store.RecordObservation(ctx, obs); err != nil {
			s.logger.Warn("record observation", "error", err.Error())
		}
	case events.DataPointRejected:
		s.metrics.SubmissionRejected(e.Reason)
		failure := storage.Failure{
			CycleID:    cycle,
			Asset:      oracle.AssetID(e.Asset).String(),
			Reason:     e.Reason,
			RecordedAt: now,
		}
		if err := s.store.RecordFailure(ctx, failure); err != nil {
			s.logger.Warn("record rejection", "error", err.Error())
		}
	case events.FeedValidationFailed:
		s.metrics.FeedFailure(e.Reason)
		failure := storage.Failure{
			CycleID:    cycle,
			Asset:      oracle.AssetID(e.Asset).String(),
			Reason:     e.Reason,
			RecordedAt: now,
		}
		if err := s.store.RecordFailure(ctx, failure); err != nil {
			s.logger.Warn("record feed failure", "error", err.Error())
		}
	case events.ValuationCompleted:
		s.metrics.ValuationPublished(oracle.AssetID(e.Asset).String(), e.Confidence)
	case events.ValuationBelowThreshold:
		s.metrics.ValuationBelowThreshold(oracle.AssetID(e.Asset).String(), e.Confidence)
	}
}
