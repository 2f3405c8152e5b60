package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"valuechain/core/events"
	nativecommon "valuechain/native/common"
	"valuechain/native/oracle"
)

var (
	// ErrUnauthorized indicates the caller is not the adapter owner.
	ErrUnauthorized = errors.New("feed: caller is not the owner")
	// ErrInvalidPriceFeed indicates a nil feed or zero asset identifier.
	ErrInvalidPriceFeed = errors.New("feed: invalid price feed")
	// ErrPaused indicates the operational kill switch is engaged. No reads or
	// writes are performed while paused.
	ErrPaused = errors.New("feed: adapter paused")
)

// Validation failure reasons surfaced on ValidationFailed events. One asset's
// failure never aborts the refresh for its siblings.
const (
	ReasonFeedError    = "Price feed error"
	ReasonPriceTooOld  = "Price too old"
	ReasonInvalidPrice = "Invalid price value"
	ReasonInvalidTime  = "Invalid timestamp"
	ReasonDeviation    = "Price deviation too high"
	ReasonTooFrequent  = "Submission too frequent"
	ReasonUnauthorized = "Unauthorized data provider"
	ReasonInvalidConf  = "Invalid confidence value"
)

const (
	// pauseModule names the adapter in the shared pause switchboard.
	pauseModule = "feed"

	// maxConfidence is assigned to rounds inside the freshness window.
	maxConfidence = 95
	// minConfidence is the floor reached as a round approaches the
	// staleness horizon; older rounds are rejected outright.
	minConfidence = 50

	// DefaultFreshWindow is the age under which a round earns maximum
	// confidence.
	DefaultFreshWindow = 5 * time.Minute
	// DefaultMaxStaleness is the age beyond which a round is rejected as
	// too old.
	DefaultMaxStaleness = time.Hour
)

// RoundData is the latest round reported by an external price feed.
type RoundData struct {
	RoundID   uint64
	Price     *big.Int
	UpdatedAt time.Time
}

// Source reads the latest round from one external price feed.
type Source interface {
	Name() string
	LatestRound(ctx context.Context) (RoundData, error)
}

// Submitter forwards normalized observations into the oracle core.
// *oracle.Engine satisfies it.
type Submitter interface {
	SubmitDataPoint(caller oracle.ProviderID, asset oracle.AssetID, price *big.Int, timestamp time.Time, confidence uint64) error
}

// Adapter pulls rounds from configured external feeds, normalizes them into
// the oracle observation shape, assigns confidence by staleness decay, and
// forwards them through the same validation pipeline as direct provider
// submissions.
type Adapter struct {
	mu           sync.RWMutex
	owner        oracle.ProviderID
	identity     oracle.ProviderID
	submitter    Submitter
	emitter      events.Emitter
	pauses       *nativecommon.Switchboard
	feeds        map[oracle.AssetID]Source
	freshWindow  time.Duration
	maxStaleness time.Duration
	clock        func() time.Time
}

// NewAdapter constructs an adapter forwarding into submitter under the given
// provider identity. The owner gates feed management and the kill switch.
func NewAdapter(owner, identity oracle.ProviderID, submitter Submitter) *Adapter {
	return &Adapter{
		owner:        owner,
		identity:     identity,
		submitter:    submitter,
		emitter:      events.NoopEmitter{},
		pauses:       nativecommon.NewSwitchboard(),
		feeds:        make(map[oracle.AssetID]Source),
		freshWindow:  DefaultFreshWindow,
		maxStaleness: DefaultMaxStaleness,
		clock:        time.Now,
	}
}

// SetEmitter wires the adapter to an event sink.
func (a *Adapter) SetEmitter(emitter events.Emitter) {
	if a == nil || emitter == nil {
		return
	}
	a.mu.Lock()
	a.emitter = emitter
	a.mu.Unlock()
}

// SetClock overrides the adapter clock, primarily for deterministic testing.
func (a *Adapter) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.clock = now
	a.mu.Unlock()
}

// SetStaleness configures the freshness window and staleness horizon used by
// the confidence decay. Non-positive values are coerced to the defaults.
func (a *Adapter) SetStaleness(freshWindow, maxStaleness time.Duration) {
	if a == nil {
		return
	}
	if freshWindow <= 0 {
		freshWindow = DefaultFreshWindow
	}
	if maxStaleness <= freshWindow {
		maxStaleness = DefaultMaxStaleness
	}
	a.mu.Lock()
	a.freshWindow = freshWindow
	a.maxStaleness = maxStaleness
	a.mu.Unlock()
}

// SetPriceFeed installs or replaces the feed mapping for the asset. Owner
// only. A nil feed or zero asset is rejected with ErrInvalidPriceFeed.
func (a *Adapter) SetPriceFeed(caller oracle.ProviderID, asset oracle.AssetID, src Source) error {
	if a == nil {
		return fmt.Errorf("feed: adapter not configured")
	}
	if caller != a.owner {
		return ErrUnauthorized
	}
	if src == nil || asset.IsZero() {
		return ErrInvalidPriceFeed
	}
	a.mu.Lock()
	a.feeds[asset] = src
	emitter := a.emitter
	a.mu.Unlock()
	emitter.Emit(events.PriceFeedUpdated{Asset: asset, Feed: src.Name()})
	return nil
}

// RemovePriceFeed clears the feed mapping for the asset. Owner only. Removing
// an unset mapping is a no-op.
func (a *Adapter) RemovePriceFeed(caller oracle.ProviderID, asset oracle.AssetID) error {
	if a == nil {
		return fmt.Errorf("feed: adapter not configured")
	}
	if caller != a.owner {
		return ErrUnauthorized
	}
	a.mu.Lock()
	src, ok := a.feeds[asset]
	if ok {
		delete(a.feeds, asset)
	}
	emitter := a.emitter
	a.mu.Unlock()
	if ok {
		emitter.Emit(events.PriceFeedRemoved{Asset: asset, Feed: src.Name()})
	}
	return nil
}

// Feed returns the configured source for the asset, if any.
func (a *Adapter) Feed(asset oracle.AssetID) (Source, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	src, ok := a.feeds[asset]
	return src, ok
}

// Assets returns the configured asset identifiers in deterministic order.
func (a *Adapter) Assets() []oracle.AssetID {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	assets := make([]oracle.AssetID, 0, len(a.feeds))
	for asset := range a.feeds {
		assets = append(assets, asset)
	}
	a.mu.RUnlock()
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].String() < assets[j].String()
	})
	return assets
}

// Pause engages the kill switch. Owner only.
func (a *Adapter) Pause(caller oracle.ProviderID) error {
	if a == nil {
		return fmt.Errorf("feed: adapter not configured")
	}
	if caller != a.owner {
		return ErrUnauthorized
	}
	a.pauses.SetPaused(pauseModule, true)
	a.mu.RLock()
	emitter := a.emitter
	a.mu.RUnlock()
	emitter.Emit(events.FeedPaused{})
	return nil
}

// Unpause releases the kill switch. Owner only.
func (a *Adapter) Unpause(caller oracle.ProviderID) error {
	if a == nil {
		return fmt.Errorf("feed: adapter not configured")
	}
	if caller != a.owner {
		return ErrUnauthorized
	}
	a.pauses.SetPaused(pauseModule, false)
	a.mu.RLock()
	emitter := a.emitter
	a.mu.RUnlock()
	emitter.Emit(events.FeedUnpaused{})
	return nil
}

// Paused reports whether the kill switch is engaged.
func (a *Adapter) Paused() bool {
	if a == nil {
		return false
	}
	return a.pauses.IsPaused(pauseModule)
}

// UpdateDataSource refreshes every configured asset from its external feed.
// Failures are reported per asset through ValidationFailed events and never
// abort the batch. While paused the call fails fast with ErrPaused before
// any feed is read. The returned count is the number of observations
// accepted by the oracle core.
func (a *Adapter) UpdateDataSource(ctx context.Context) (int, error) {
	if a == nil || a.submitter == nil {
		return 0, fmt.Errorf("feed: adapter not configured")
	}
	if err := nativecommon.Guard(a.pauses, pauseModule); err != nil {
		return 0, ErrPaused
	}
	accepted := 0
	for _, asset := range a.Assets() {
		src, ok := a.Feed(asset)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		if a.refreshAsset(ctx, asset, src) {
			accepted++
		}
	}
	return accepted, nil
}

func (a *Adapter) refreshAsset(ctx context.Context, asset oracle.AssetID, src Source) bool {
	a.mu.RLock()
	emitter := a.emitter
	clock := a.clock
	freshWindow := a.freshWindow
	maxStaleness := a.maxStaleness
	a.mu.RUnlock()

	round, err := src.LatestRound(ctx)
	if err != nil {
		emitter.Emit(events.FeedValidationFailed{Asset: asset, Reason: ReasonFeedError})
		return false
	}
	if round.Price == nil || round.Price.Sign() < 0 {
		emitter.Emit(events.FeedValidationFailed{Asset: asset, Reason: ReasonInvalidPrice})
		return false
	}
	now := clock()
	if round.UpdatedAt.IsZero() || round.UpdatedAt.After(now) {
		emitter.Emit(events.FeedValidationFailed{Asset: asset, Reason: ReasonInvalidTime})
		return false
	}
	age := now.Sub(round.UpdatedAt)
	if age > maxStaleness {
		emitter.Emit(events.FeedValidationFailed{Asset: asset, Reason: ReasonPriceTooOld})
		return false
	}
	confidence := decayConfidence(age, freshWindow, maxStaleness)
	if err := a.submitter.SubmitDataPoint(a.identity, asset, round.Price, round.UpdatedAt, confidence); err != nil {
		emitter.Emit(events.FeedValidationFailed{Asset: asset, Reason: reasonFor(err)})
		return false
	}
	return true
}

// decayConfidence maps round age onto [minConfidence, maxConfidence]:
// maximum inside the freshness window, then linear decay towards the floor
// at the staleness horizon.
func decayConfidence(age, freshWindow, maxStaleness time.Duration) uint64 {
	if age <= freshWindow {
		return maxConfidence
	}
	if age >= maxStaleness {
		return minConfidence
	}
	span := maxStaleness - freshWindow
	excess := age - freshWindow
	decay := uint64(excess) * (maxConfidence - minConfidence) / uint64(span)
	return maxConfidence - decay
}

// reasonFor maps oracle rejection sentinels onto the event reason strings
// consumed by downstream monitors.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, oracle.ErrPriceDeviationTooHigh):
		return ReasonDeviation
	case errors.Is(err, oracle.ErrSubmissionTooFrequent):
		return ReasonTooFrequent
	case errors.Is(err, oracle.ErrUnauthorizedProvider):
		return ReasonUnauthorized
	case errors.Is(err, oracle.ErrInvalidPrice):
		return ReasonInvalidPrice
	case errors.Is(err, oracle.ErrInvalidTimestamp):
		return ReasonInvalidTime
	case errors.Is(err, oracle.ErrInvalidConfidence):
		return ReasonInvalidConf
	default:
		return err.Error()
	}
}
