package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"valuechain/core/events"
)

type mockStorage struct {
	kv map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{kv: make(map[string][]byte)}
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockStorage) KVDelete(key []byte) error {
	delete(m.kv, string(key))
	return nil
}

func testAsset(t *testing.T) AssetID {
	t.Helper()
	asset, err := ParseAssetID("0x0000000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("parse asset: %v", err)
	}
	return asset
}

func testProvider(t *testing.T, suffix byte) ProviderID {
	t.Helper()
	var raw [20]byte
	raw[19] = suffix
	return ProviderID(raw)
}

func newTestEngine(t *testing.T) (*Engine, *Registry, *events.Recorder, ProviderID) {
	t.Helper()
	store := newMockStorage()
	owner := testProvider(t, 0xff)
	registry := NewRegistry(store, owner)
	engine := NewEngine(store, owner, registry)
	recorder := events.NewRecorder()
	registry.SetEmitter(recorder)
	engine.SetEmitter(recorder)
	base := time.Unix(1_700_000_000, 0)
	engine.SetClock(func() time.Time { return base })
	return engine, registry, recorder, owner
}

func TestSubmitDataPointAccepted(t *testing.T) {
	engine, registry, recorder, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)
	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1000), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit: %v", err)
	}
	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(history))
	}
	if history[0].Price.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected price %s", history[0].Price)
	}
	if history[0].Provider != provider {
		t.Fatalf("unexpected provider %s", history[0].Provider)
	}
	received := recorder.ByType(events.TypeDataPointReceived)
	if len(received) != 1 {
		t.Fatalf("expected 1 received event, got %d", len(received))
	}
}

func TestSubmitDataPointUnauthorized(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	asset := testAsset(t)
	err := engine.SubmitDataPoint(testProvider(t, 9), asset, big.NewInt(1000), time.Unix(1_699_999_000, 0), 90)
	if !errors.Is(err, ErrUnauthorizedProvider) {
		t.Fatalf("expected ErrUnauthorizedProvider, got %v", err)
	}
}

func TestSubmitDataPointRateLimited(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	base := time.Unix(1_700_000_000, 0)
	current := base
	engine.SetClock(func() time.Time { return current })

	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1000), base.Add(-time.Minute), 90); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	current = base.Add(30 * time.Minute)
	err := engine.SubmitDataPoint(provider, asset, big.NewInt(1001), current.Add(-time.Minute), 90)
	if !errors.Is(err, ErrSubmissionTooFrequent) {
		t.Fatalf("expected ErrSubmissionTooFrequent, got %v", err)
	}
	current = base.Add(time.Hour)
	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1001), current.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit after interval: %v", err)
	}
}

func TestSubmitDataPointPlausibility(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)

	cases := []struct {
		name       string
		price      *big.Int
		timestamp  time.Time
		confidence uint64
		want       error
	}{
		{"nil price", nil, now.Add(-time.Minute), 90, ErrInvalidPrice},
		{"negative price", big.NewInt(-1), now.Add(-time.Minute), 90, ErrInvalidPrice},
		{"overflow price", new(big.Int).Add(MaxPriceValue(), big.NewInt(1)), now.Add(-time.Minute), 90, ErrInvalidPrice},
		{"zero timestamp", big.NewInt(1000), time.Time{}, 90, ErrInvalidTimestamp},
		{"future timestamp", big.NewInt(1000), now.Add(time.Hour), 90, ErrInvalidTimestamp},
		{"expired timestamp", big.NewInt(1000), now.Add(-8 * 24 * time.Hour), 90, ErrInvalidTimestamp},
		{"confidence above range", big.NewInt(1000), now.Add(-time.Minute), 101, ErrInvalidConfidence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.SubmitDataPoint(provider, asset, tc.price, tc.timestamp, tc.confidence)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("rejected submissions must not persist, got %d entries", len(history))
	}
}

func TestSubmitDataPointDeviation(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	alice := testProvider(t, 1)
	bob := testProvider(t, 2)
	if err := registry.AddProvider(owner, alice); err != nil {
		t.Fatalf("add alice: %v", err)
	}
	if err := registry.AddProvider(owner, bob); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)

	// Default deviation bound is 2000 bps (20%).
	if err := engine.SubmitDataPoint(alice, asset, big.NewInt(1000), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("seed submit: %v", err)
	}
	err := engine.SubmitDataPoint(bob, asset, big.NewInt(2000), now.Add(-time.Minute), 90)
	if !errors.Is(err, ErrPriceDeviationTooHigh) {
		t.Fatalf("expected ErrPriceDeviationTooHigh, got %v", err)
	}
	if err := engine.SubmitDataPoint(bob, asset, big.NewInt(1050), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit within bound: %v", err)
	}
	// Exactly at the bound is accepted; the check is strict-greater.
	carol := testProvider(t, 3)
	if err := registry.AddProvider(owner, carol); err != nil {
		t.Fatalf("add carol: %v", err)
	}
	if err := engine.SubmitDataPoint(carol, asset, big.NewInt(1260), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit at bound: %v", err)
	}
}

func TestSubmitDataPointDeviationOutlivesBackdatedEntry(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	alice := testProvider(t, 1)
	bob := testProvider(t, 2)
	carol := testProvider(t, 3)
	dave := testProvider(t, 4)
	for _, p := range []ProviderID{alice, bob, carol, dave} {
		if err := registry.AddProvider(owner, p); err != nil {
			t.Fatalf("add provider: %v", err)
		}
	}
	asset := testAsset(t)
	base := time.Unix(1_700_000_000, 0)
	current := base
	engine.SetClock(func() time.Time { return current })

	if err := engine.SubmitDataPoint(alice, asset, big.NewInt(1000), base.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit fresh: %v", err)
	}
	// A backdated observation one hour short of the validity window is
	// still accepted; it lands after the fresh one in insertion order.
	backdated := base.Add(-(7*24*time.Hour - time.Hour))
	if err := engine.SubmitDataPoint(bob, asset, big.NewInt(1010), backdated, 90); err != nil {
		t.Fatalf("submit backdated: %v", err)
	}

	// Two hours later the backdated entry has expired. The deviation
	// check must still anchor on the fresh observation.
	current = base.Add(2 * time.Hour)
	err := engine.SubmitDataPoint(carol, asset, big.NewInt(10000), current.Add(-time.Minute), 90)
	if !errors.Is(err, ErrPriceDeviationTooHigh) {
		t.Fatalf("expected ErrPriceDeviationTooHigh, got %v", err)
	}
	if err := engine.SubmitDataPoint(dave, asset, big.NewInt(1100), current.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit within bound: %v", err)
	}
}

func TestHistoryEvictsOldestAtCap(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	params := DefaultProviderParams()
	params.MaxHistoryLength = 3
	params.MinSubmissionInterval = 0
	params.MaxPriceDeviationBps = 0
	if err := engine.UpdateParams(owner, params); err != nil {
		t.Fatalf("update params: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)
	for i := int64(0); i < 5; i++ {
		if err := engine.SubmitDataPoint(provider, asset, big.NewInt(100+i), now.Add(-time.Minute), 90); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(history))
	}
	if history[0].Price.Cmp(big.NewInt(102)) != 0 {
		t.Fatalf("expected oldest retained price 102, got %s", history[0].Price)
	}
	if history[2].Price.Cmp(big.NewInt(104)) != 0 {
		t.Fatalf("expected newest price 104, got %s", history[2].Price)
	}
}

func TestHistoryExcludesExpired(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	base := time.Unix(1_700_000_000, 0)
	current := base
	engine.SetClock(func() time.Time { return current })

	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1000), base.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit: %v", err)
	}
	current = base.Add(8 * 24 * time.Hour)
	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expired entries must be excluded, got %d", len(history))
	}
}

func TestSubmitBulkDataPoints(t *testing.T) {
	engine, registry, recorder, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	params := DefaultProviderParams()
	params.MinSubmissionInterval = 0
	if err := engine.UpdateParams(owner, params); err != nil {
		t.Fatalf("update params: %v", err)
	}
	asset := testAsset(t)
	other, err := ParseAssetID("0x0000000000000000000000000000000000000000000000000000000000000002")
	if err != nil {
		t.Fatalf("parse asset: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	items := []BulkItem{
		{Asset: asset, Price: big.NewInt(1000), Timestamp: now.Add(-time.Minute), Confidence: 90},
		{Asset: other, Price: big.NewInt(-5), Timestamp: now.Add(-time.Minute), Confidence: 90},
		{Asset: other, Price: big.NewInt(2000), Timestamp: now.Add(-time.Minute), Confidence: 85},
	}
	results, err := engine.SubmitBulkDataPoints(provider, items)
	if err != nil {
		t.Fatalf("bulk submit: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Accepted() || results[1].Accepted() || !results[2].Accepted() {
		t.Fatalf("unexpected outcomes: %+v", results)
	}
	if !errors.Is(results[1].Err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", results[1].Err)
	}
	rejected := recorder.ByType(events.TypeDataPointRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected 1 rejected event, got %d", len(rejected))
	}
}

func TestSubmitBulkDataPointsBatchTooLarge(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)
	items := make([]BulkItem, 51)
	for i := range items {
		items[i] = BulkItem{Asset: asset, Price: big.NewInt(1000), Timestamp: now.Add(-time.Minute), Confidence: 90}
	}
	if _, err := engine.SubmitBulkDataPoints(provider, items); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("oversized batch must not persist anything, got %d", len(history))
	}
}

func TestUpdateParamsOwnerOnly(t *testing.T) {
	engine, _, recorder, owner := newTestEngine(t)
	params := DefaultProviderParams()
	params.MaxHistoryLength = 10
	if err := engine.UpdateParams(testProvider(t, 5), params); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.UpdateParams(owner, params); err != nil {
		t.Fatalf("update params: %v", err)
	}
	loaded, err := engine.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if loaded.MaxHistoryLength != 10 {
		t.Fatalf("expected MaxHistoryLength 10, got %d", loaded.MaxHistoryLength)
	}
	if len(recorder.ByType(events.TypeOracleParamsUpdated)) != 1 {
		t.Fatalf("expected params updated event")
	}
}

func TestUpdateParamsRejectsInvalid(t *testing.T) {
	engine, _, _, owner := newTestEngine(t)
	params := DefaultProviderParams()
	params.MaxHistoryLength = 0
	if err := engine.UpdateParams(owner, params); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestDeleteAssetDataResetsSubmissionClock(t *testing.T) {
	engine, registry, recorder, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)
	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1000), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := engine.DeleteAssetData(testProvider(t, 9), asset); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.DeleteAssetData(owner, asset); err != nil {
		t.Fatalf("delete: %v", err)
	}
	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after delete, got %d", len(history))
	}
	// Rate limit clocks are cleared with the data, so resubmission is
	// immediate.
	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1010), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("resubmit after delete: %v", err)
	}
	if len(recorder.ByType(events.TypeAssetDataDeleted)) != 1 {
		t.Fatalf("expected asset deleted event")
	}
}

func TestProviderRemovalBlocksSubmissions(t *testing.T) {
	engine, registry, _, owner := newTestEngine(t)
	provider := testProvider(t, 1)
	if err := registry.AddProvider(owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	asset := testAsset(t)
	now := time.Unix(1_700_000_000, 0)
	if err := engine.SubmitDataPoint(provider, asset, big.NewInt(1000), now.Add(-time.Minute), 90); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := registry.RemoveProvider(owner, provider); err != nil {
		t.Fatalf("remove provider: %v", err)
	}
	err := engine.SubmitDataPoint(provider, asset, big.NewInt(1001), now.Add(-time.Minute), 90)
	if !errors.Is(err, ErrUnauthorizedProvider) {
		t.Fatalf("expected ErrUnauthorizedProvider, got %v", err)
	}
	// Historical submissions survive removal.
	history, err := engine.DataPointHistory(asset, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected history to survive provider removal, got %d", len(history))
	}
}
