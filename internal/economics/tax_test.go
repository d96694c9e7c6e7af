package economics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func standardTaxConfig() TaxConfig {
	return TaxConfig{
		Enabled:        true,
		BaselineSource: BaselineFaceValue,
		MinimumTax:     1,
		Tiers: []TaxTier{
			{ThresholdBps: 0, TaxBps: 500},
			{ThresholdBps: 1000, TaxBps: 1200},
			{ThresholdBps: 3000, TaxBps: 2000},
		},
	}
}

func TestComputeTaxZeroCases(t *testing.T) {
	cfg := standardTaxConfig()

	// At or below baseline there is never a tax.
	assert.Zero(t, ComputeTax(1000, 1000, cfg))
	assert.Zero(t, ComputeTax(500, 1000, cfg))
	assert.Zero(t, ComputeTax(0, 1000, cfg))

	// Non-positive baseline disables the tax regardless of asking price.
	assert.Zero(t, ComputeTax(1_000_000, 0, cfg))
	assert.Zero(t, ComputeTax(1_000_000, -5, cfg))

	// Disabled config.
	disabled := standardTaxConfig()
	disabled.Enabled = false
	assert.Zero(t, ComputeTax(5000, 1000, disabled))
}

func TestComputeTaxTierSelection(t *testing.T) {
	cfg := standardTaxConfig()

	// Baseline 1000, asking 1200: excess 200, markup 2000 bp (20%), so the
	// 1000 bp tier's 1200 bp rate applies: floor(200*1200/10000) = 24.
	assert.Equal(t, int64(24), ComputeTax(1200, 1000, cfg))

	// Markup 5% stays in the first tier: floor(50*500/10000) = 2.
	assert.Equal(t, int64(2), ComputeTax(1050, 1000, cfg))

	// Markup 40% reaches the top tier: floor(400*2000/10000) = 80.
	assert.Equal(t, int64(80), ComputeTax(1400, 1000, cfg))

	// Exactly at a tier threshold the higher tier applies: markup 10.00%
	// selects the 1200 bp rate, floor(100*1200/10000) = 12.
	assert.Equal(t, int64(12), ComputeTax(1100, 1000, cfg))
}

func TestComputeTaxMinimumFloor(t *testing.T) {
	cfg := standardTaxConfig()
	cfg.MinimumTax = 3

	// Baseline 100, asking 109: excess 9, markup 900 bp, rate 500 bp,
	// raw tax floor(9*500/10000) = 0. A zero raw tax stays zero; the
	// minimum only applies once the tax is positive.
	assert.Zero(t, ComputeTax(109, 100, cfg))

	// Baseline 100, asking 130: excess 30, markup 3000 bp, rate 2000 bp,
	// raw tax floor(30*2000/10000) = 6 >= minimum, unchanged.
	assert.Equal(t, int64(6), ComputeTax(130, 100, cfg))

	// Baseline 1000, asking 1030: excess 30, markup 300 bp, rate 500 bp,
	// raw tax floor(30*500/10000) = 1 < minimum 3, raised.
	assert.Equal(t, int64(3), ComputeTax(1030, 1000, cfg))
}

func TestComputeTaxMonotonicInAskingPrice(t *testing.T) {
	cfg := standardTaxConfig()
	const baseline = 1000

	prev := int64(-1)
	for asking := int64(0); asking <= 5000; asking += 7 {
		tax := ComputeTax(asking, baseline, cfg)
		assert.GreaterOrEqual(t, tax, int64(0))
		assert.GreaterOrEqual(t, tax, prev,
			"tax decreased at asking=%d", asking)
		prev = tax
	}
}

func TestValidateTaxConfig(t *testing.T) {
	assert.NoError(t, ValidateTaxConfig(standardTaxConfig()))

	// Disabled configs are always valid, even with no tiers.
	assert.NoError(t, ValidateTaxConfig(TaxConfig{Enabled: false}))

	enabled := func(mutate func(*TaxConfig)) TaxConfig {
		cfg := standardTaxConfig()
		mutate(&cfg)
		return cfg
	}

	// An empty baseline source defaults to face value; last_sale is the other
	// supported source.
	assert.NoError(t, ValidateTaxConfig(enabled(func(c *TaxConfig) { c.BaselineSource = "" })))
	assert.NoError(t, ValidateTaxConfig(enabled(func(c *TaxConfig) { c.BaselineSource = BaselineLastSale })))

	cases := map[string]TaxConfig{
		"no tiers":                enabled(func(c *TaxConfig) { c.Tiers = nil }),
		"negative minimum":        enabled(func(c *TaxConfig) { c.MinimumTax = -1 }),
		"negative threshold":      enabled(func(c *TaxConfig) { c.Tiers[0].ThresholdBps = -10 }),
		"non-ascending tiers":     enabled(func(c *TaxConfig) { c.Tiers[2].ThresholdBps = 1000 }),
		"rate above 100%":         enabled(func(c *TaxConfig) { c.Tiers[1].TaxBps = 10_001 }),
		"negative rate":           enabled(func(c *TaxConfig) { c.Tiers[1].TaxBps = -1 }),
		"duplicate threshold":     enabled(func(c *TaxConfig) { c.Tiers[1].ThresholdBps = 0 }),
		"unknown baseline source": enabled(func(c *TaxConfig) { c.BaselineSource = "street_price" }),
	}
	for name, cfg := range cases {
		err := ValidateTaxConfig(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, name)
	}
}
