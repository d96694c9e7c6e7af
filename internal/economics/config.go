package economics

import (
	"errors"
	"fmt"
)

// TotalBps is the basis-point denominator: 10,000 bp = 100%.
const TotalBps = 10_000

// ErrInvalidConfiguration marks split or tax configurations that must be
// rejected at ticket-class creation time, before any ledger operation is
// submitted. Use errors.Is to classify.
var ErrInvalidConfiguration = errors.New("invalid economics configuration")

// SplitRecipient is one percentage-weighted payee of a payment split.
type SplitRecipient struct {
	Recipient string `json:"recipient"`
	ShareBps  int64  `json:"share_bps"`
}

// SplitConfig distributes a payment amount across a fixed, ordered set of
// recipients. Shares must sum to exactly TotalBps. Set once at ticket-class
// creation and immutable afterwards.
type SplitConfig struct {
	Recipients []SplitRecipient `json:"recipients"`
}

// TaxTier maps a markup threshold (in bp over the baseline price) to the tax
// rate (in bp of the excess) that applies at or above that threshold.
type TaxTier struct {
	ThresholdBps int64 `json:"threshold_bps"`
	TaxBps       int64 `json:"tax_bps"`
}

// BaselineSource identifies which price a resale markup is measured against.
// An empty source means face value.
type BaselineSource string

const (
	// BaselineFaceValue measures markup against the ticket class's original
	// listing price.
	BaselineFaceValue BaselineSource = "face_value"
	// BaselineLastSale measures markup against the most recent sale price.
	BaselineLastSale BaselineSource = "last_sale"
)

// TaxConfig configures the progressive anti-scalping tax for one ticket
// class. Tiers are ordered by ascending threshold; the last tier whose
// threshold is at or below the markup percentage wins (highest applicable
// tier, not additive brackets). Immutable per class.
type TaxConfig struct {
	Enabled        bool           `json:"enabled"`
	BaselineSource BaselineSource `json:"baseline_source"`
	MinimumTax     int64          `json:"minimum_tax"`
	Tiers          []TaxTier      `json:"tiers"`
}

// ValidateSplitConfig rejects configs whose basis points don't sum to exactly
// TotalBps, carry non-positive shares, or name a recipient twice. Must be
// called at class creation time; ComputeSplit assumes a valid config.
func ValidateSplitConfig(cfg SplitConfig) error {
	if len(cfg.Recipients) == 0 {
		return fmt.Errorf("%w: split has no recipients", ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(cfg.Recipients))
	var total int64
	for i, r := range cfg.Recipients {
		if r.Recipient == "" {
			return fmt.Errorf("%w: split recipient %d has no identity", ErrInvalidConfiguration, i)
		}
		if seen[r.Recipient] {
			return fmt.Errorf("%w: split recipient %q appears more than once", ErrInvalidConfiguration, r.Recipient)
		}
		seen[r.Recipient] = true

		if r.ShareBps <= 0 {
			return fmt.Errorf("%w: split recipient %q has non-positive share %d bp", ErrInvalidConfiguration, r.Recipient, r.ShareBps)
		}
		total += r.ShareBps
	}

	if total != TotalBps {
		return fmt.Errorf("%w: split shares sum to %d bp, want %d", ErrInvalidConfiguration, total, TotalBps)
	}
	return nil
}

// ValidateTaxConfig rejects malformed tier tables and unknown baseline
// sources. A disabled config is always valid; tiers of an enabled config must
// be non-empty, strictly ascending by threshold, and carry rates within
// [0, TotalBps].
func ValidateTaxConfig(cfg TaxConfig) error {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.BaselineSource {
	case "", BaselineFaceValue, BaselineLastSale:
	default:
		return fmt.Errorf("%w: unknown baseline source %q", ErrInvalidConfiguration, cfg.BaselineSource)
	}
	if cfg.MinimumTax < 0 {
		return fmt.Errorf("%w: minimum tax %d is negative", ErrInvalidConfiguration, cfg.MinimumTax)
	}
	if len(cfg.Tiers) == 0 {
		return fmt.Errorf("%w: tax is enabled but has no tiers", ErrInvalidConfiguration)
	}

	prev := int64(-1)
	for i, tier := range cfg.Tiers {
		if tier.ThresholdBps < 0 {
			return fmt.Errorf("%w: tier %d threshold %d bp is negative", ErrInvalidConfiguration, i, tier.ThresholdBps)
		}
		if tier.ThresholdBps <= prev {
			return fmt.Errorf("%w: tier %d threshold %d bp does not ascend past %d", ErrInvalidConfiguration, i, tier.ThresholdBps, prev)
		}
		if tier.TaxBps < 0 || tier.TaxBps > TotalBps {
			return fmt.Errorf("%w: tier %d rate %d bp outside [0, %d]", ErrInvalidConfiguration, i, tier.TaxBps, TotalBps)
		}
		prev = tier.ThresholdBps
	}
	return nil
}
