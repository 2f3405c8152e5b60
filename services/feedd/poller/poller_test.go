package poller

import (
	"context"
	"math/big"
	"testing"
	"time"

	"valuechain/native/feed"
	"valuechain/native/oracle"
	"valuechain/native/valuation"
	feedstorage "valuechain/services/feedd/storage"
	"valuechain/storage"
	"valuechain/storage/kvstate"
)

type fixture struct {
	manager *Manager
	adapter *feed.Adapter
	audit   *feedstorage.Storage
	owner   oracle.ProviderID
	asset   oracle.AssetID
	source  *feed.ManualFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := kvstate.New(storage.NewMemDB())
	owner, err := oracle.ParseProviderID("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("parse owner: %v", err)
	}
	identity, err := oracle.ParseProviderID("0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	asset, err := oracle.ParseAssetID("0x01")
	if err != nil {
		t.Fatalf("parse asset: %v", err)
	}

	registry := oracle.NewRegistry(state, owner)
	engine := oracle.NewEngine(state, owner, registry)
	valEngine := valuation.NewEngine(state, engine.Store(), owner)
	adapter := feed.NewAdapter(owner, identity, engine)

	audit, err := feedstorage.Open("file:feedd_poller_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open audit storage: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	sink := NewSink(audit, nil)
	sink.BindAdapter(adapter)
	engine.SetEmitter(sink)
	adapter.SetEmitter(sink)
	valEngine.SetEmitter(sink)

	if err := registry.AddProvider(owner, identity); err != nil {
		t.Fatalf("authorize identity: %v", err)
	}

	source := feed.NewManualFeed("eth-usd")
	source.Set(1, big.NewInt(4200), time.Now().Add(-time.Minute))
	if err := adapter.SetPriceFeed(owner, asset, source); err != nil {
		t.Fatalf("set feed: %v", err)
	}

	manager, err := New(adapter, valEngine, sink, time.Second, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &fixture{
		manager: manager,
		adapter: adapter,
		audit:   audit,
		owner:   owner,
		asset:   asset,
		source:  source,
	}
}

func TestTickRecordsObservation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.manager.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	observations, err := fx.audit.RecentObservations(ctx, fx.asset.String(), 10)
	if err != nil {
		t.Fatalf("recent observations: %v", err)
	}
	if len(observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(observations))
	}
	obs := observations[0]
	if obs.Feed != "eth-usd" {
		t.Fatalf("expected feed name resolved, got %q", obs.Feed)
	}
	if obs.Price != "4200" {
		t.Fatalf("unexpected price %q", obs.Price)
	}
	if obs.CycleID == "" || obs.CycleID == "manual" {
		t.Fatalf("expected a cycle identifier, got %q", obs.CycleID)
	}
}

func TestTickRecordsRateLimitedRefresh(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.manager.Tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// The default submission interval blocks a second forward within the
	// same hour, surfacing as a per-asset refresh failure.
	fx.source.Set(2, big.NewInt(4201), time.Now().Add(-30*time.Second))
	if err := fx.manager.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	failures, err := fx.audit.RecentFailures(ctx, fx.asset.String(), 10)
	if err != nil {
		t.Fatalf("recent failures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if failures[0].Reason != feed.ReasonTooFrequent {
		t.Fatalf("expected reason %q, got %q", feed.ReasonTooFrequent, failures[0].Reason)
	}
}

func TestTickSkipsWhilePaused(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.adapter.Pause(fx.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := fx.manager.Tick(ctx); err != nil {
		t.Fatalf("tick while paused must not error: %v", err)
	}
	observations, err := fx.audit.RecentObservations(ctx, fx.asset.String(), 10)
	if err != nil {
		t.Fatalf("recent observations: %v", err)
	}
	if len(observations) != 0 {
		t.Fatalf("no observations expected while paused, got %d", len(observations))
	}
}
