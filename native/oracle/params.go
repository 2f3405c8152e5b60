package oracle

import (
	"fmt"
	"time"
)

// Default provider parameters applied when governance has not installed a
// replacement set.
const (
	DefaultMinSubmissionInterval = time.Hour
	DefaultMaxPriceDeviationBps  = 2_000
	DefaultMaxHistoryLength      = 100
	DefaultMaxValidityPeriod     = 7 * 24 * time.Hour
	DefaultMaxBatchSize          = 50
)

// ProviderParams holds the governance-tunable validation knobs consumed by the
// oracle engine. The struct is replaced wholesale on update so a partially
// applied parameter set can never be observed.
type ProviderParams struct {
	// MinSubmissionInterval is the minimum spacing between two accepted
	// submissions from the same provider for the same asset.
	MinSubmissionInterval time.Duration
	// MaxPriceDeviationBps bounds the change versus the latest non-expired
	// observation, in basis points. Zero disables the check.
	MaxPriceDeviationBps uint64
	// MaxHistoryLength caps the per-asset observation history. The oldest
	// entry is evicted first once the cap is reached.
	MaxHistoryLength uint64
	// MaxValidityPeriod is the age beyond which an observation is expired
	// and excluded from reads.
	MaxValidityPeriod time.Duration
	// MaxBatchSize bounds bulk submissions; larger batches are rejected
	// outright before any item is processed.
	MaxBatchSize uint64
}

// DefaultProviderParams returns the parameter set installed at genesis.
func DefaultProviderParams() ProviderParams {
	return ProviderParams{
		MinSubmissionInterval: DefaultMinSubmissionInterval,
		MaxPriceDeviationBps:  DefaultMaxPriceDeviationBps,
		MaxHistoryLength:      DefaultMaxHistoryLength,
		MaxValidityPeriod:     DefaultMaxValidityPeriod,
		MaxBatchSize:          DefaultMaxBatchSize,
	}
}

// Validate verifies the parameter set falls within a sane domain.
func (p ProviderParams) Validate() error {
	if p.MinSubmissionInterval < 0 {
		return fmt.Errorf("oracle: min submission interval must not be negative")
	}
	if p.MaxPriceDeviationBps > 10_000 {
		return fmt.Errorf("oracle: max price deviation must not exceed 10000 bps")
	}
	if p.MaxHistoryLength == 0 {
		return fmt.Errorf("oracle: max history length must be positive")
	}
	if p.MaxValidityPeriod <= 0 {
		return fmt.Errorf("oracle: max validity period must be positive")
	}
	if p.MaxBatchSize == 0 {
		return fmt.Errorf("oracle: max batch size must be positive")
	}
	return nil
}

type storedProviderParams struct {
	MinSubmissionInterval uint64
	MaxPriceDeviationBps  uint64
	MaxHistoryLength      uint64
	MaxValidityPeriod     uint64
	MaxBatchSize          uint64
}

func (p ProviderParams) stored() storedProviderParams {
	return storedProviderParams{
		MinSubmissionInterval: uint64(p.MinSubmissionInterval / time.Second),
		MaxPriceDeviationBps:  p.MaxPriceDeviationBps,
		MaxHistoryLength:      p.MaxHistoryLength,
		MaxValidityPeriod:     uint64(p.MaxValidityPeriod / time.Second),
		MaxBatchSize:          p.MaxBatchSize,
	}
}

func (s storedProviderParams) params() ProviderParams {
	return ProviderParams{
		MinSubmissionInterval: time.Duration(s.MinSubmissionInterval) * time.Second,
		MaxPriceDeviationBps:  s.MaxPriceDeviationBps,
		MaxHistoryLength:      s.MaxHistoryLength,
		MaxValidityPeriod:     time.Duration(s.MaxValidityPeriod) * time.Second,
		MaxBatchSize:          s.MaxBatchSize,
	}
}
