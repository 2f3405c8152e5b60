package valuation

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"valuechain/core/events"
	"valuechain/native/oracle"
)

var (
	// ErrInsufficientDataPoints indicates fewer non-expired observations than
	// the configured minimum. Transient: resolves as observations accrue.
	ErrInsufficientDataPoints = errors.New("valuation: insufficient data points")
	// ErrUnauthorized indicates the caller is not the governance owner.
	ErrUnauthorized = errors.New("valuation: caller is not the owner")
)

// HistorySource supplies the non-expired observation window for an asset.
// *oracle.Store satisfies it.
type HistorySource interface {
	History(asset oracle.AssetID, limit int, maxValidity time.Duration) ([]oracle.DataPoint, error)
}

// Result is the aggregate valuation for one asset. Published reports whether
// the confidence met the governance threshold and the result was cached as
// current.
type Result struct {
	Asset      oracle.AssetID
	Value      *big.Int
	Confidence uint64
	Timestamp  time.Time
	DataPoints uint64
	Published  bool
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	clone := r
	if r.Value != nil {
		clone.Value = new(big.Int).Set(r.Value)
	}
	return clone
}

type storedResult struct {
	Value      *big.Int
	Confidence uint64
	Timestamp  uint64
	DataPoints uint64
}

type storedPending struct {
	Requests  uint64
	UpdatedAt uint64
}

// Engine aggregates sufficiently many recent, confident observations into a
// single valuation with an attached confidence score. Requests and processing
// are decoupled: RequestValuation records intent, ProcessValuation performs
// the aggregation on a later call.
type Engine struct {
	storage oracle.Storage
	source  HistorySource
	owner   oracle.ProviderID
	emitter events.Emitter
	clock   func() time.Time
}

// NewEngine constructs a valuation engine reading observations from source
// and persisting results through storage.
func NewEngine(storage oracle.Storage, source HistorySource, owner oracle.ProviderID) *Engine {
	return &Engine{
		storage: storage,
		source:  source,
		owner:   owner,
		emitter: events.NoopEmitter{},
		clock:   time.Now,
	}
}

// SetEmitter wires the engine to an event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the engine clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.clock = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// Params returns the active valuation parameters, falling back to the genesis
// defaults. Parameters are re-read from state on every operation.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.storage == nil {
		return Params{}, fmt.Errorf("valuation: engine not configured")
	}
	var stored storedParams
	ok, err := e.storage.KVGet(paramsKey(), &stored)
	if err != nil {
		return Params{}, fmt.Errorf("valuation: load params: %w", err)
	}
	if !ok {
		return DefaultParams(), nil
	}
	return stored.params(), nil
}

// UpdateParams replaces the full parameter set. Owner only.
func (e *Engine) UpdateParams(caller oracle.ProviderID, params Params) error {
	if e == nil || e.storage == nil {
		return fmt.Errorf("valuation: engine not configured")
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := e.storage.KVPut(paramsKey(), params.stored()); err != nil {
		return fmt.Errorf("valuation: store params: %w", err)
	}
	e.emitter.Emit(events.ValuationParamsUpdated{
		MinDataPoints:       params.MinDataPoints,
		ConfidenceThreshold: params.ConfidenceThreshold,
		MaxValidityPeriod:   int64(params.MaxValidityPeriod / time.Second),
		UpdateDelay:         int64(params.UpdateDelay / time.Second),
	})
	return nil
}

// RequestValuation records the intent to revalue the asset and emits
// ValuationRequested. Aggregation itself is deferred to ProcessValuation so
// expensive work can be batched by a separate actor or scheduled job.
func (e *Engine) RequestValuation(asset oracle.AssetID, requester oracle.ProviderID) error {
	if e == nil || e.storage == nil {
		return fmt.Errorf("valuation: engine not configured")
	}
	if asset.IsZero() {
		return fmt.Errorf("valuation: asset id required")
	}
	var pending storedPending
	if _, err := e.storage.KVGet(pendingKey(asset), &pending); err != nil {
		return fmt.Errorf("valuation: load pending requests: %w", err)
	}
	pending.Requests++
	pending.UpdatedAt = uint64(e.now().Unix())
	if err := e.storage.KVPut(pendingKey(asset), pending); err != nil {
		return fmt.Errorf("valuation: store pending requests: %w", err)
	}
	e.emitter.Emit(events.ValuationRequested{Asset: asset, Requester: requester})
	return nil
}

// PendingRequests returns the number of valuation requests recorded since the
// last processing pass.
func (e *Engine) PendingRequests(asset oracle.AssetID) (uint64, error) {
	if e == nil || e.storage == nil {
		return 0, fmt.Errorf("valuation: engine not configured")
	}
	var pending storedPending
	if _, err := e.storage.KVGet(pendingKey(asset), &pending); err != nil {
		return 0, fmt.Errorf("valuation: load pending requests: %w", err)
	}
	return pending.Requests, nil
}

// LatestValuation returns the cached current result for the asset, if any.
func (e *Engine) LatestValuation(asset oracle.AssetID) (Result, bool, error) {
	if e == nil || e.storage == nil {
		return Result{}, false, fmt.Errorf("valuation: engine not configured")
	}
	var stored storedResult
	ok, err := e.storage.KVGet(resultKey(asset), &stored)
	if err != nil {
		return Result{}, false, fmt.Errorf("valuation: load result: %w", err)
	}
	if !ok {
		return Result{}, false, nil
	}
	return resultFromStored(asset, stored), true, nil
}

func resultFromStored(asset oracle.AssetID, stored storedResult) Result {
	result := Result{
		Asset:      asset,
		Confidence: stored.Confidence,
		Timestamp:  time.Unix(int64(stored.Timestamp), 0).UTC(),
		DataPoints: stored.DataPoints,
		Published:  true,
	}
	if stored.Value != nil {
		result.Value = new(big.Int).Set(stored.Value)
	} else {
		result.Value = big.NewInt(0)
	}
	return result
}

// ProcessValuation aggregates the asset's qualifying observations. A call
// within UpdateDelay of the cached result returns that result unchanged
// rather than recomputing. Aggregates below the confidence threshold are
// reported through a distinct event and left uncached, so consumers can tell
// "not enough data" apart from "data present but low quality".
func (e *Engine) ProcessValuation(asset oracle.AssetID) (Result, error) {
	if e == nil || e.storage == nil || e.source == nil {
		return Result{}, fmt.Errorf("valuation: engine not configured")
	}
	if asset.IsZero() {
		return Result{}, fmt.Errorf("valuation: asset id required")
	}
	params, err := e.Params()
	if err != nil {
		return Result{}, err
	}
	now := e.now()

	var cached storedResult
	haveCached, err := e.storage.KVGet(resultKey(asset), &cached)
	if err != nil {
		return Result{}, fmt.Errorf("valuation: load result: %w", err)
	}
	if haveCached && params.UpdateDelay > 0 {
		cachedAt := time.Unix(int64(cached.Timestamp), 0)
		if now.Sub(cachedAt) < params.UpdateDelay {
			return resultFromStored(asset, cached), nil
		}
	}

	points, err := e.source.History(asset, 0, params.MaxValidityPeriod)
	if err != nil {
		return Result{}, err
	}
	if uint64(len(points)) < params.MinDataPoints {
		return Result{}, ErrInsufficientDataPoints
	}

	value, meanConfidence := aggregate(points)
	quality := qualityScore(points, params, now)
	confidence := (quality + meanConfidence) / 2

	result := Result{
		Asset:      asset,
		Value:      value,
		Confidence: confidence,
		Timestamp:  now.UTC(),
		DataPoints: uint64(len(points)),
		Published:  confidence >= params.ConfidenceThreshold,
	}

	if !result.Published {
		e.emitter.Emit(events.ValuationBelowThreshold{
			Asset:      asset,
			Value:      new(big.Int).Set(value),
			Confidence: confidence,
			Threshold:  params.ConfidenceThreshold,
		})
		return result, nil
	}

	stored := storedResult{
		Value:      new(big.Int).Set(value),
		Confidence: confidence,
		Timestamp:  uint64(now.Unix()),
		DataPoints: uint64(len(points)),
	}
	if err := e.storage.KVPut(resultKey(asset), stored); err != nil {
		return Result{}, fmt.Errorf("valuation: store result: %w", err)
	}
	if err := e.storage.KVDelete(pendingKey(asset)); err != nil {
		return Result{}, fmt.Errorf("valuation: clear pending requests: %w", err)
	}
	e.emitter.Emit(events.ValuationCompleted{
		Asset:      asset,
		Value:      new(big.Int).Set(value),
		Confidence: confidence,
		Timestamp:  now.Unix(),
		DataPoints: uint64(len(points)),
	})
	return result, nil
}

// aggregate computes the confidence-weighted mean price and the unweighted
// mean observation confidence. All non-expired points participate, weighted
// by their own confidence, so low-confidence points contribute
// proportionally less rather than being silently dropped. A zero total
// weight falls back to the plain mean with confidence zero.
func aggregate(points []oracle.DataPoint) (*big.Int, uint64) {
	weightedSum := new(big.Int)
	plainSum := new(big.Int)
	totalWeight := uint64(0)
	totalConfidence := uint64(0)
	for _, dp := range points {
		price := dp.Price
		if price == nil {
			price = big.NewInt(0)
		}
		plainSum.Add(plainSum, price)
		weighted := new(big.Int).Mul(price, new(big.Int).SetUint64(dp.Confidence))
		weightedSum.Add(weightedSum, weighted)
		totalWeight += dp.Confidence
		totalConfidence += dp.Confidence
	}
	if totalWeight == 0 {
		value := plainSum.Div(plainSum, big.NewInt(int64(len(points))))
		return value, 0
	}
	value := weightedSum.Div(weightedSum, new(big.Int).SetUint64(totalWeight))
	return value, totalConfidence / uint64(len(points))
}

// qualityScore blends data recency and sufficiency into a [0,100] score. The
// recency half decays linearly as the newest observation approaches the
// validity horizon; the sufficiency half reaches 100 at twice the configured
// minimum count.
func qualityScore(points []oracle.DataPoint, params Params, now time.Time) uint64 {
	newest := points[0].Timestamp
	for _, dp := range points[1:] {
		if dp.Timestamp.After(newest) {
			newest = dp.Timestamp
		}
	}
	recency := uint64(0)
	if params.MaxValidityPeriod > 0 {
		age := now.Sub(newest)
		if age < 0 {
			age = 0
		}
		if age < params.MaxValidityPeriod {
			remaining := params.MaxValidityPeriod - age
			recency = uint64(remaining * 100 / params.MaxValidityPeriod)
		}
	}
	sufficiency := uint64(100)
	if target := 2 * params.MinDataPoints; uint64(len(points)) < target {
		sufficiency = uint64(len(points)) * 100 / target
	}
	return (recency + sufficiency) / 2
}
