package valuation

import (
	"fmt"
	"time"
)

// Default valuation parameters applied when governance has not installed a
// replacement set.
const (
	DefaultMinDataPoints       = 5
	DefaultConfidenceThreshold = 80
	DefaultMaxValidityPeriod   = 7 * 24 * time.Hour
	DefaultUpdateDelay         = 12 * time.Hour
)

// Params holds the governance-tunable aggregation knobs. The struct is
// replaced wholesale on update so a partially applied parameter set can never
// be observed.
type Params struct {
	// MinDataPoints is the minimum number of non-expired observations
	// required before an aggregate is computed.
	MinDataPoints uint64
	// ConfidenceThreshold is the publishable bar, in [0,100]. Aggregates
	// below it are reported but not cached as current.
	ConfidenceThreshold uint64
	// MaxValidityPeriod is the age beyond which observations are excluded
	// from aggregation.
	MaxValidityPeriod time.Duration
	// UpdateDelay is the minimum interval between successive recomputations
	// producing a new cached result for the same asset.
	UpdateDelay time.Duration
}

// DefaultParams returns the parameter set installed at genesis, matching the
// deployment defaults of the valuation contract.
func DefaultParams() Params {
	return Params{
		MinDataPoints:       DefaultMinDataPoints,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MaxValidityPeriod:   DefaultMaxValidityPeriod,
		UpdateDelay:         DefaultUpdateDelay,
	}
}

// Validate verifies the parameter set falls within a sane domain.
func (p Params) Validate() error {
	if p.MinDataPoints == 0 {
		return fmt.Errorf("valuation: min data points must be positive")
	}
	if p.ConfidenceThreshold > 100 {
		return fmt.Errorf("valuation: confidence threshold must not exceed 100")
	}
	if p.MaxValidityPeriod <= 0 {
		return fmt.Errorf("valuation: max validity period must be positive")
	}
	if p.UpdateDelay < 0 {
		return fmt.Errorf("valuation: update delay must not be negative")
	}
	return nil
}

type storedParams struct {
	MinDataPoints       uint64
	ConfidenceThreshold uint64
	MaxValidityPeriod   uint64
	UpdateDelay         uint64
}

func (p Params) stored() storedParams {
	return storedParams{
		MinDataPoints:       p.MinDataPoints,
		ConfidenceThreshold: p.ConfidenceThreshold,
		MaxValidityPeriod:   uint64(p.MaxValidityPeriod / time.Second),
		UpdateDelay:         uint64(p.UpdateDelay / time.Second),
	}
}

func (s storedParams) params() Params {
	return Params{
		MinDataPoints:       s.MinDataPoints,
		ConfidenceThreshold: s.ConfidenceThreshold,
		MaxValidityPeriod:   time.Duration(s.MaxValidityPeriod) * time.Second,
		UpdateDelay:         time.Duration(s.UpdateDelay) * time.Second,
	}
}
