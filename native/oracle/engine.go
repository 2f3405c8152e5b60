package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"valuechain/core/events"
)

var (
	// ErrUnauthorizedProvider indicates the submitter is not whitelisted.
	ErrUnauthorizedProvider = errors.New("oracle: unauthorized data provider")
	// ErrSubmissionTooFrequent indicates the provider violated the minimum
	// submission interval for the asset. The caller may retry after waiting.
	ErrSubmissionTooFrequent = errors.New("oracle: submission too frequent")
	// ErrInvalidPrice indicates a missing, negative, or implausibly large price.
	ErrInvalidPrice = errors.New("oracle: invalid price value")
	// ErrInvalidTimestamp indicates a future or expired observation time.
	ErrInvalidTimestamp = errors.New("oracle: invalid timestamp")
	// ErrInvalidConfidence indicates a confidence outside [0,100].
	ErrInvalidConfidence = errors.New("oracle: invalid confidence value")
	// ErrPriceDeviationTooHigh indicates the price moved beyond the configured
	// bound versus the latest non-expired observation.
	ErrPriceDeviationTooHigh = errors.New("oracle: price deviation too high")
	// ErrBatchTooLarge indicates a bulk submission above the configured cap.
	// The batch is rejected before any item is processed.
	ErrBatchTooLarge = errors.New("oracle: batch exceeds maximum size")
)

// Authorizer resolves whether a provider may submit observations.
type Authorizer interface {
	IsAuthorized(provider ProviderID) (bool, error)
}

// Engine validates provider submissions and maintains the observation
// history. Every operation runs to completion before the next begins; the
// hosting ledger serializes state-mutating calls, so the engine holds no
// locks of its own.
type Engine struct {
	store   *Store
	auth    Authorizer
	storage Storage
	owner   ProviderID
	emitter events.Emitter
	clock   func() time.Time
}

// NewEngine constructs an oracle engine over the supplied storage. The owner
// gates parameter updates and asset deletion.
func NewEngine(storage Storage, owner ProviderID, auth Authorizer) *Engine {
	return &Engine{
		store:   NewStore(storage),
		auth:    auth,
		storage: storage,
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
	e.store.SetClock(now)
}

// Store exposes the underlying data point store for read-side consumers such
// as the valuation engine.
func (e *Engine) Store() *Store {
	if e == nil {
		return nil
	}
	return e.store
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// Params returns the active provider parameters, falling back to the genesis
// defaults when governance has not installed a set. Parameters are re-read
// from state on every operation and never cached across calls.
func (e *Engine) Params() (ProviderParams, error) {
	if e == nil || e.storage == nil {
		return ProviderParams{}, fmt.Errorf("oracle: engine not configured")
	}
	var stored storedProviderParams
	ok, err := e.storage.KVGet(paramsKey(), &stored)
	if err != nil {
		return ProviderParams{}, fmt.Errorf("oracle: load params: %w", err)
	}
	if !ok {
		return DefaultProviderParams(), nil
	}
	return stored.params(), nil
}

// UpdateParams replaces the full parameter set. Owner only.
func (e *Engine) UpdateParams(caller ProviderID, params ProviderParams) error {
	if e == nil || e.storage == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := e.storage.KVPut(paramsKey(), params.stored()); err != nil {
		return fmt.Errorf("oracle: store params: %w", err)
	}
	e.emitter.Emit(events.OracleParamsUpdated{
		MinSubmissionInterval: int64(params.MinSubmissionInterval / time.Second),
		MaxPriceDeviationBps:  params.MaxPriceDeviationBps,
		MaxHistoryLength:      params.MaxHistoryLength,
		MaxValidityPeriod:     int64(params.MaxValidityPeriod / time.Second),
		MaxBatchSize:          params.MaxBatchSize,
	})
	return nil
}

// SubmitDataPoint runs one observation through the validation pipeline:
// authorization, rate limiting, plausibility, and deviation, in that order.
// The first violated precondition fails the whole call with no state change.
func (e *Engine) SubmitDataPoint(caller ProviderID, asset AssetID, price *big.Int, timestamp time.Time, confidence uint64) error {
	if e == nil || e.storage == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	if asset.IsZero() {
		return fmt.Errorf("oracle: asset id required")
	}
	params, err := e.Params()
	if err != nil {
		return err
	}
	return e.submit(caller, asset, price, timestamp, confidence, params)
}

func (e *Engine) submit(caller ProviderID, asset AssetID, price *big.Int, timestamp time.Time, confidence uint64, params ProviderParams) error {
	authorized, err := e.auth.IsAuthorized(caller)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrUnauthorizedProvider
	}

	now := e.now()
	if params.MinSubmissionInterval > 0 {
		last, ok, err := e.store.LastSubmission(asset, caller)
		if err != nil {
			return err
		}
		if ok && now.Sub(last) < params.MinSubmissionInterval {
			return ErrSubmissionTooFrequent
		}
	}

	if price == nil || price.Sign() < 0 || price.Cmp(maxPriceValue) > 0 {
		return ErrInvalidPrice
	}
	if timestamp.IsZero() || timestamp.After(now) {
		return ErrInvalidTimestamp
	}
	if params.MaxValidityPeriod > 0 && now.Sub(timestamp) > params.MaxValidityPeriod {
		return ErrInvalidTimestamp
	}
	if confidence > 100 {
		return ErrInvalidConfidence
	}

	if params.MaxPriceDeviationBps > 0 {
		last, ok, err := e.store.Latest(asset, params.MaxValidityPeriod)
		if err != nil {
			return err
		}
		if ok && last.Price != nil && last.Price.Sign() > 0 {
			diff := new(big.Int).Sub(price, last.Price)
			if diff.Sign() < 0 {
				diff.Neg(diff)
			}
			// |price - last| * 10000 > last * maxDeviationBps
			lhs := new(big.Int).Mul(diff, big.NewInt(10_000))
			rhs := new(big.Int).Mul(last.Price, new(big.Int).SetUint64(params.MaxPriceDeviationBps))
			if lhs.Cmp(rhs) > 0 {
				return ErrPriceDeviationTooHigh
			}
		}
	}

	dp := DataPoint{
		Price:      new(big.Int).Set(price),
		Timestamp:  timestamp.UTC(),
		Confidence: confidence,
		Provider:   caller,
	}
	if err := e.store.Append(asset, dp, params.MaxHistoryLength); err != nil {
		return err
	}
	if err := e.store.SetLastSubmission(asset, caller, now); err != nil {
		return err
	}
	e.emitter.Emit(events.DataPointReceived{
		Asset:      asset,
		Provider:   caller,
		Price:      new(big.Int).Set(price),
		Timestamp:  timestamp.Unix(),
		Confidence: confidence,
	})
	return nil
}

// SubmitBulkDataPoints applies the submission pipeline to each item
// independently: one item's rejection never aborts its siblings. Oversized
// batches are rejected outright before any item runs. The returned slice
// carries one outcome per input item, in order.
func (e *Engine) SubmitBulkDataPoints(caller ProviderID, items []BulkItem) ([]BulkResult, error) {
	if e == nil || e.storage == nil {
		return nil, fmt.Errorf("oracle: engine not configured")
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if params.MaxBatchSize > 0 && uint64(len(items)) > params.MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	results := make([]BulkResult, 0, len(items))
	for _, item := range items {
		var itemErr error
		if item.Asset.IsZero() {
			itemErr = fmt.Errorf("oracle: asset id required")
		} else {
			itemErr = e.submit(caller, item.Asset, item.Price, item.Timestamp, item.Confidence, params)
		}
		if itemErr != nil {
			e.emitter.Emit(events.DataPointRejected{
				Asset:    item.Asset,
				Provider: caller,
				Reason:   itemErr.Error(),
			})
		}
		results = append(results, BulkResult{Asset: item.Asset, Err: itemErr})
	}
	return results, nil
}

// DataPointHistory returns the non-expired history for the asset, oldest
// first. A non-positive limit returns the full retained window.
func (e *Engine) DataPointHistory(asset AssetID, limit int) ([]DataPoint, error) {
	if e == nil || e.storage == nil {
		return nil, fmt.Errorf("oracle: engine not configured")
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return e.store.History(asset, limit, params.MaxValidityPeriod)
}

// PruneExpired reclaims storage held by expired observations. Reads already
// exclude expired entries, so pruning is an optimization, not a correctness
// requirement.
func (e *Engine) PruneExpired(asset AssetID) (uint64, error) {
	if e == nil || e.storage == nil {
		return 0, fmt.Errorf("oracle: engine not configured")
	}
	params, err := e.Params()
	if err != nil {
		return 0, err
	}
	return e.store.PruneExpired(asset, params.MaxValidityPeriod)
}

// DeleteAssetData clears the full history and submission clocks for the
// asset. Owner only. Providers may resubmit immediately afterwards.
func (e *Engine) DeleteAssetData(caller ProviderID, asset AssetID) error {
	if e == nil || e.storage == nil {
		return fmt.Errorf("oracle: engine not configured")
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	removed, err := e.store.DeleteAsset(asset)
	if err != nil {
		return err
	}
	e.emitter.Emit(events.AssetDataDeleted{Asset: asset, Removed: removed})
	return nil
}
