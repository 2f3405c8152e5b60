package events

import (
	"math/big"

	"valuechain/core/types"
)

const (
	// TypeDataPointReceived is emitted for every observation accepted by the oracle.
	TypeDataPointReceived = "oracle.datapoint.received"
	// TypeDataPointRejected is emitted when a bulk item fails validation.
	TypeDataPointRejected = "oracle.datapoint.rejected"
	// TypeProviderAdded is emitted when governance authorizes a data provider.
	TypeProviderAdded = "oracle.provider.added"
	// TypeProviderRemoved is emitted when governance revokes a data provider.
	TypeProviderRemoved = "oracle.provider.removed"
	// TypeOracleParamsUpdated is emitted on a governance parameter replacement.
	TypeOracleParamsUpdated = "oracle.params.updated"
	// TypeAssetDataDeleted is emitted when governance clears an asset history.
	TypeAssetDataDeleted = "oracle.asset.deleted"
)

// DataPointReceived records an accepted observation.
type DataPointReceived struct {
	Asset      [32]byte
	Provider   [20]byte
	Price      *big.Int
	Timestamp  int64
	Confidence uint64
}

func (DataPointReceived) EventType() string { return TypeDataPointReceived }

func (e DataPointReceived) Event() *types.Event {
	return &types.Event{
		Type: TypeDataPointReceived,
		Attributes: map[string]string{
			"asset":      assetHex(e.Asset),
			"provider":   addressHex(e.Provider),
			"price":      formatAmount(e.Price),
			"timestamp":  intToString(e.Timestamp),
			"confidence": uintToString(e.Confidence),
		},
	}
}

// DataPointRejected records a per-item validation failure during bulk submission.
type DataPointRejected struct {
	Asset    [32]byte
	Provider [20]byte
	Reason   string
}

func (DataPointRejected) EventType() string { return TypeDataPointRejected }

func (e DataPointRejected) Event() *types.Event {
	return &types.Event{
		Type: TypeDataPointRejected,
		Attributes: map[string]string{
			"asset":    assetHex(e.Asset),
			"provider": addressHex(e.Provider),
			"reason":   trimReason(e.Reason),
		},
	}
}

// ProviderAdded records a new authorized provider.
type ProviderAdded struct {
	Provider [20]byte
}

func (ProviderAdded) EventType() string { return TypeProviderAdded }

func (e ProviderAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeProviderAdded,
		Attributes: map[string]string{
			"provider": addressHex(e.Provider),
		},
	}
}

// ProviderRemoved records a revoked provider.
type ProviderRemoved struct {
	Provider [20]byte
}

func (ProviderRemoved) EventType() string { return TypeProviderRemoved }

func (e ProviderRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeProviderRemoved,
		Attributes: map[string]string{
			"provider": addressHex(e.Provider),
		},
	}
}

// OracleParamsUpdated records a full governance parameter replacement.
type OracleParamsUpdated struct {
	MinSubmissionInterval int64
	MaxPriceDeviationBps  uint64
	MaxHistoryLength      uint64
	MaxValidityPeriod     int64
	MaxBatchSize          uint64
}

func (OracleParamsUpdated) EventType() string { return TypeOracleParamsUpdated }

func (e OracleParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleParamsUpdated,
		Attributes: map[string]string{
			"minSubmissionInterval": intToString(e.MinSubmissionInterval),
			"maxPriceDeviationBps":  uintToString(e.MaxPriceDeviationBps),
			"maxHistoryLength":      uintToString(e.MaxHistoryLength),
			"maxValidityPeriod":     intToString(e.MaxValidityPeriod),
			"maxBatchSize":          uintToString(e.MaxBatchSize),
		},
	}
}

// AssetDataDeleted records a governance wipe of an asset history.
type AssetDataDeleted struct {
	Asset   [32]byte
	Removed uint64
}

func (AssetDataDeleted) EventType() string { return TypeAssetDataDeleted }

func (e AssetDataDeleted) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetDataDeleted,
		Attributes: map[string]string{
			"asset":   assetHex(e.Asset),
			"removed": uintToString(e.Removed),
		},
	}
}
