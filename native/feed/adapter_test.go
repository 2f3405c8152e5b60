package feed

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"valuechain/core/events"
	"valuechain/native/oracle"
)

var adapterBase = time.Unix(1_700_000_000, 0)

type submission struct {
	caller     oracle.ProviderID
	asset      oracle.AssetID
	price      *big.Int
	timestamp  time.Time
	confidence uint64
}

type stubSubmitter struct {
	calls []submission
	err   error
}

func (s *stubSubmitter) SubmitDataPoint(caller oracle.ProviderID, asset oracle.AssetID, price *big.Int, timestamp time.Time, confidence uint64) error {
	s.calls = append(s.calls, submission{caller: caller, asset: asset, price: price, timestamp: timestamp, confidence: confidence})
	return s.err
}

type failingFeed struct{}

func (failingFeed) Name() string { return "failing" }

func (failingFeed) LatestRound(context.Context) (RoundData, error) {
	return RoundData{}, errors.New("upstream unreachable")
}

func feedOwner() oracle.ProviderID {
	var raw [20]byte
	raw[19] = 0xaa
	return oracle.ProviderID(raw)
}

func feedIdentity() oracle.ProviderID {
	var raw [20]byte
	raw[19] = 0xbb
	return oracle.ProviderID(raw)
}

func feedAsset(t *testing.T, hex string) oracle.AssetID {
	t.Helper()
	asset, err := oracle.ParseAssetID(hex)
	if err != nil {
		t.Fatalf("parse asset: %v", err)
	}
	return asset
}

func newTestAdapter(t *testing.T) (*Adapter, *stubSubmitter, *events.Recorder) {
	t.Helper()
	submitter := &stubSubmitter{}
	adapter := NewAdapter(feedOwner(), feedIdentity(), submitter)
	adapter.SetClock(func() time.Time { return adapterBase })
	recorder := events.NewRecorder()
	adapter.SetEmitter(recorder)
	return adapter, submitter, recorder
}

func TestSetPriceFeedOwnerOnly(t *testing.T) {
	adapter, _, recorder := newTestAdapter(t)
	asset := feedAsset(t, "0x01")
	src := NewManualFeed("manual")

	var intruder oracle.ProviderID
	intruder[0] = 1
	if err := adapter.SetPriceFeed(intruder, asset, src); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := adapter.SetPriceFeed(feedOwner(), asset, nil); !errors.Is(err, ErrInvalidPriceFeed) {
		t.Fatalf("expected ErrInvalidPriceFeed for nil source, got %v", err)
	}
	if err := adapter.SetPriceFeed(feedOwner(), oracle.AssetID{}, src); !errors.Is(err, ErrInvalidPriceFeed) {
		t.Fatalf("expected ErrInvalidPriceFeed for zero asset, got %v", err)
	}
	if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if got, ok := adapter.Feed(asset); !ok || got != src {
		t.Fatalf("feed not installed")
	}
	if len(recorder.ByType(events.TypePriceFeedUpdated)) != 1 {
		t.Fatalf("expected feed updated event")
	}
}

func TestRemovePriceFeedNoopWhenAbsent(t *testing.T) {
	adapter, _, recorder := newTestAdapter(t)
	asset := feedAsset(t, "0x01")

	if err := adapter.RemovePriceFeed(feedOwner(), asset); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	if len(recorder.ByType(events.TypePriceFeedRemoved)) != 0 {
		t.Fatalf("no removal event for an unset mapping")
	}

	if err := adapter.SetPriceFeed(feedOwner(), asset, NewManualFeed("manual")); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if err := adapter.RemovePriceFeed(feedOwner(), asset); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := adapter.Feed(asset); ok {
		t.Fatalf("feed should be gone")
	}
	if len(recorder.ByType(events.TypePriceFeedRemoved)) != 1 {
		t.Fatalf("expected removal event")
	}
}

func TestUpdateDataSourceForwardsFreshRound(t *testing.T) {
	adapter, submitter, _ := newTestAdapter(t)
	asset := feedAsset(t, "0x01")
	src := NewManualFeed("manual")
	src.Set(7, big.NewInt(4200), adapterBase.Add(-time.Minute))
	if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
		t.Fatalf("set feed: %v", err)
	}

	accepted, err := adapter.UpdateDataSource(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", accepted)
	}
	if len(submitter.calls) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submitter.calls))
	}
	call := submitter.calls[0]
	if call.caller != feedIdentity() {
		t.Fatalf("submissions must use the adapter identity")
	}
	if call.price.Cmp(big.NewInt(4200)) != 0 {
		t.Fatalf("expected price 4200, got %s", call.price)
	}
	if call.confidence != 95 {
		t.Fatalf("fresh round should earn maximum confidence, got %d", call.confidence)
	}
}

func TestUpdateDataSourceDecaysStaleConfidence(t *testing.T) {
	adapter, submitter, _ := newTestAdapter(t)
	asset := feedAsset(t, "0x01")
	src := NewManualFeed("manual")
	// Halfway between the 5m freshness window and the 1h horizon.
	src.Set(8, big.NewInt(4200), adapterBase.Add(-(5*time.Minute + 27*time.Minute + 30*time.Second)))
	if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
		t.Fatalf("set feed: %v", err)
	}

	if _, err := adapter.UpdateDataSource(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(submitter.calls) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(submitter.calls))
	}
	if got := submitter.calls[0].confidence; got != 73 {
		t.Fatalf("expected mid-decay confidence 73, got %d", got)
	}
}

func TestUpdateDataSourceRejectsOldRound(t *testing.T) {
	adapter, submitter, recorder := newTestAdapter(t)
	asset := feedAsset(t, "0x01")
	src := NewManualFeed("manual")
	src.Set(9, big.NewInt(4200), adapterBase.Add(-2*time.Hour))
	if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
		t.Fatalf("set feed: %v", err)
	}

	accepted, err := adapter.UpdateDataSource(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if accepted != 0 || len(submitter.calls) != 0 {
		t.Fatalf("stale round must not be submitted")
	}
	failures := recorder.ByType(events.TypeFeedValidationFailed)
	if len(failures) != 1 {
		t.Fatalf("expected 1 validation failure, got %d", len(failures))
	}
	if reason := failures[0].(events.FeedValidationFailed).Reason; reason != ReasonPriceTooOld {
		t.Fatalf("expected reason %q, got %q", ReasonPriceTooOld, reason)
	}
}

func TestUpdateDataSourceReportsInvalidRounds(t *testing.T) {
	cases := []struct {
		name   string
		price  *big.Int
		at     time.Time
		reason string
	}{
		{"nil price", nil, adapterBase.Add(-time.Minute), ReasonInvalidPrice},
		{"negative price", big.NewInt(-1), adapterBase.Add(-time.Minute), ReasonInvalidPrice},
		{"zero time", big.NewInt(100), time.Time{}, ReasonInvalidTime},
		{"future time", big.NewInt(100), adapterBase.Add(time.Minute), ReasonInvalidTime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, submitter, recorder := newTestAdapter(t)
			asset := feedAsset(t, "0x01")
			src := NewManualFeed("manual")
			src.Set(1, tc.price, tc.at)
			if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
				t.Fatalf("set feed: %v", err)
			}
			if _, err := adapter.UpdateDataSource(context.Background()); err != nil {
				t.Fatalf("update: %v", err)
			}
			if len(submitter.calls) != 0 {
				t.Fatalf("invalid round must not be submitted")
			}
			failures := recorder.ByType(events.TypeFeedValidationFailed)
			if len(failures) != 1 {
				t.Fatalf("expected 1 failure, got %d", len(failures))
			}
			if reason := failures[0].(events.FeedValidationFailed).Reason; reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, reason)
			}
		})
	}
}

func TestUpdateDataSourcePartialFailure(t *testing.T) {
	adapter, submitter, recorder := newTestAdapter(t)
	healthy := feedAsset(t, "0x01")
	broken := feedAsset(t, "0x02")

	good := NewManualFeed("good")
	good.Set(3, big.NewInt(999), adapterBase.Add(-time.Minute))
	if err := adapter.SetPriceFeed(feedOwner(), healthy, good); err != nil {
		t.Fatalf("set healthy: %v", err)
	}
	if err := adapter.SetPriceFeed(feedOwner(), broken, failingFeed{}); err != nil {
		t.Fatalf("set broken: %v", err)
	}

	accepted, err := adapter.UpdateDataSource(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", accepted)
	}
	if len(submitter.calls) != 1 || submitter.calls[0].asset != healthy {
		t.Fatalf("only the healthy asset should be submitted")
	}
	failures := recorder.ByType(events.TypeFeedValidationFailed)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if reason := failures[0].(events.FeedValidationFailed).Reason; reason != ReasonFeedError {
		t.Fatalf("expected reason %q, got %q", ReasonFeedError, reason)
	}
}

func TestUpdateDataSourceMapsSubmitterRejections(t *testing.T) {
	adapter, submitter, recorder := newTestAdapter(t)
	asset := feedAsset(t, "0x01")
	src := NewManualFeed("manual")
	src.Set(4, big.NewInt(999), adapterBase.Add(-time.Minute))
	if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	submitter.err = oracle.ErrSubmissionTooFrequent

	accepted, err := adapter.UpdateDataSource(context.Background())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if accepted != 0 {
		t.Fatalf("rejected submission must not count as accepted")
	}
	failures := recorder.ByType(events.TypeFeedValidationFailed)
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if reason := failures[0].(events.FeedValidationFailed).Reason; reason != ReasonTooFrequent {
		t.Fatalf("expected reason %q, got %q", ReasonTooFrequent, reason)
	}
}

func TestPauseBlocksRefresh(t *testing.T) {
	adapter, submitter, recorder := newTestAdapter(t)
	asset := feedAsset(t, "0x01")
	src := NewManualFeed("manual")
	src.Set(5, big.NewInt(999), adapterBase.Add(-time.Minute))
	if err := adapter.SetPriceFeed(feedOwner(), asset, src); err != nil {
		t.Fatalf("set feed: %v", err)
	}

	var intruder oracle.ProviderID
	intruder[0] = 1
	if err := adapter.Pause(intruder); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := adapter.Pause(feedOwner()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !adapter.Paused() {
		t.Fatalf("adapter should report paused")
	}
	if _, err := adapter.UpdateDataSource(context.Background()); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if len(submitter.calls) != 0 {
		t.Fatalf("no feed may be read while paused")
	}

	if err := adapter.Unpause(feedOwner()); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if accepted, err := adapter.UpdateDataSource(context.Background()); err != nil || accepted != 1 {
		t.Fatalf("expected refresh after unpause, accepted=%d err=%v", accepted, err)
	}
	if len(recorder.ByType(events.TypeFeedPaused)) != 1 || len(recorder.ByType(events.TypeFeedUnpaused)) != 1 {
		t.Fatalf("expected pause and unpause events")
	}
}

func TestDecayConfidenceBounds(t *testing.T) {
	fresh := DefaultFreshWindow
	horizon := DefaultMaxStaleness
	if got := decayConfidence(0, fresh, horizon); got != maxConfidence {
		t.Fatalf("zero age: got %d", got)
	}
	if got := decayConfidence(fresh, fresh, horizon); got != maxConfidence {
		t.Fatalf("window edge: got %d", got)
	}
	if got := decayConfidence(horizon, fresh, horizon); got != minConfidence {
		t.Fatalf("horizon edge: got %d", got)
	}
	mid := fresh + (horizon-fresh)/2
	if got := decayConfidence(mid, fresh, horizon); got != 73 {
		t.Fatalf("midpoint: got %d", got)
	}
}
