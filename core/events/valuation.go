package events

import (
	"math/big"

	"valuechain/core/types"
)

const (
	// TypeValuationRequested is emitted when a consumer asks for a fresh valuation.
	TypeValuationRequested = "valuation.requested"
	// TypeValuationCompleted is emitted when aggregation meets the confidence bar.
	TypeValuationCompleted = "valuation.completed"
	// TypeValuationBelowThreshold is emitted when aggregation succeeds but the
	// blended confidence misses the publishable bar. The result is not cached.
	TypeValuationBelowThreshold = "valuation.below_threshold"
	// TypeValuationParamsUpdated is emitted on a governance parameter replacement.
	TypeValuationParamsUpdated = "valuation.params.updated"
)

// ValuationRequested records an aggregation request for later processing.
type ValuationRequested struct {
	Asset     [32]byte
	Requester [20]byte
}

func (ValuationRequested) EventType() string { return TypeValuationRequested }

func (e ValuationRequested) Event() *types.Event {
	return &types.Event{
		Type: TypeValuationRequested,
		Attributes: map[string]string{
			"asset":     assetHex(e.Asset),
			"requester": addressHex(e.Requester),
		},
	}
}

// ValuationCompleted records a published aggregate valuation.
type ValuationCompleted struct {
	Asset      [32]byte
	Value      *big.Int
	Confidence uint64
	Timestamp  int64
	DataPoints uint64
}

func (ValuationCompleted) EventType() string { return TypeValuationCompleted }

func (e ValuationCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeValuationCompleted,
		Attributes: map[string]string{
			"asset":      assetHex(e.Asset),
			"value":      formatAmount(e.Value),
			"confidence": uintToString(e.Confidence),
			"timestamp":  intToString(e.Timestamp),
			"dataPoints": uintToString(e.DataPoints),
		},
	}
}

// ValuationBelowThreshold records an aggregation whose confidence fell short.
type ValuationBelowThreshold struct {
	Asset      [32]byte
	Value      *big.Int
	Confidence uint64
	Threshold  uint64
}

func (ValuationBelowThreshold) EventType() string { return TypeValuationBelowThreshold }

func (e ValuationBelowThreshold) Event() *types.Event {
	return &types.Event{
		Type: TypeValuationBelowThreshold,
		Attributes: map[string]string{
			"asset":      assetHex(e.Asset),
			"value":      formatAmount(e.Value),
			"confidence": uintToString(e.Confidence),
			"threshold":  uintToString(e.Threshold),
		},
	}
}

// ValuationParamsUpdated records a full governance parameter replacement.
type ValuationParamsUpdated struct {
	MinDataPoints       uint64
	ConfidenceThreshold uint64
	MaxValidityPeriod   int64
	UpdateDelay         int64
}

func (ValuationParamsUpdated) EventType() string { return TypeValuationParamsUpdated }

func (e ValuationParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeValuationParamsUpdated,
		Attributes: map[string]string{
			"minDataPoints":       uintToString(e.MinDataPoints),
			"confidenceThreshold": uintToString(e.ConfidenceThreshold),
			"maxValidityPeriod":   intToString(e.MaxValidityPeriod),
			"updateDelay":         intToString(e.UpdateDelay),
		},
	}
}
