package oracle

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// AssetID identifies the asset being priced. The value is opaque to the
// oracle: it is used purely as a state key and carries no semantic meaning.
type AssetID [32]byte

// ParseAssetID decodes a hex-encoded asset identifier, with or without the
// 0x prefix. Short inputs are left-aligned and zero padded to match the
// fixed-width on-chain representation.
func ParseAssetID(raw string) (AssetID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return AssetID{}, fmt.Errorf("oracle: asset id required")
	}
	if len(trimmed)%2 == 1 {
		trimmed = "0" + trimmed
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return AssetID{}, fmt.Errorf("oracle: invalid asset id %q: %w", raw, err)
	}
	if len(decoded) > len(AssetID{}) {
		return AssetID{}, fmt.Errorf("oracle: asset id %q exceeds 32 bytes", raw)
	}
	var id AssetID
	copy(id[:], decoded)
	return id, nil
}

// String renders the identifier as 0x-prefixed hex.
func (id AssetID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether the identifier is unset.
func (id AssetID) IsZero() bool {
	return id == AssetID{}
}

// ProviderID is the address of a data provider or governance identity.
type ProviderID [20]byte

// ParseProviderID decodes a hex-encoded provider address.
func ParseProviderID(raw string) (ProviderID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return ProviderID{}, fmt.Errorf("oracle: invalid provider address %q: %w", raw, err)
	}
	if len(decoded) != len(ProviderID{}) {
		return ProviderID{}, fmt.Errorf("oracle: provider address %q must be 20 bytes", raw)
	}
	var id ProviderID
	copy(id[:], decoded)
	return id, nil
}

// String renders the address as 0x-prefixed hex.
func (p ProviderID) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// IsZero reports whether the address is unset.
func (p ProviderID) IsZero() bool {
	return p == ProviderID{}
}

// DataPoint is one validated price observation. Observations are immutable
// once stored; the history is append-only until pruned by expiry or an
// explicit governance deletion.
type DataPoint struct {
	Price      *big.Int
	Timestamp  time.Time
	Confidence uint64
	Provider   ProviderID
}

// Clone returns a deep copy of the observation so callers cannot mutate
// stored state through the shared big.Int pointer.
func (dp DataPoint) Clone() DataPoint {
	clone := DataPoint{
		Timestamp:  dp.Timestamp,
		Confidence: dp.Confidence,
		Provider:   dp.Provider,
	}
	if dp.Price != nil {
		clone.Price = new(big.Int).Set(dp.Price)
	}
	return clone
}

// BulkItem is one entry of a bulk submission.
type BulkItem struct {
	Asset      AssetID
	Price      *big.Int
	Timestamp  time.Time
	Confidence uint64
}

// BulkResult reports the outcome of one bulk item. Err is nil when the
// observation was accepted and stored.
type BulkResult struct {
	Asset AssetID
	Err   error
}

// Accepted reports whether the item passed the full validation pipeline.
func (r BulkResult) Accepted() bool {
	return r.Err == nil
}

// maxPriceValue bounds submitted prices so that confidence-weighted sums over
// a full history cannot overflow downstream consumers working in 256 bits.
var maxPriceValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// MaxPriceValue returns the sanity ceiling applied during plausibility checks.
func MaxPriceValue() *big.Int {
	return new(big.Int).Set(maxPriceValue)
}
