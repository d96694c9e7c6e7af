package economics

// ComputeTax computes the progressive anti-scalping tax on a resale markup.
// Amounts are in minor units. The tax is zero when the config is disabled,
// the baseline is non-positive, or the asking price does not exceed the
// baseline. Otherwise the markup percentage (in bp of the baseline, floored)
// selects the last tier whose threshold it meets, and the tax is
// floor(excess * rate / 10000), raised to MinimumTax when positive but below
// it.
//
// Pure arithmetic: no side effects, no error paths. For a fixed baseline and
// config the result is monotonically non-decreasing in askingAmount.
func ComputeTax(askingAmount, baselineAmount int64, cfg TaxConfig) int64 {
	if !cfg.Enabled || baselineAmount <= 0 || askingAmount <= baselineAmount {
		return 0
	}

	excess := askingAmount - baselineAmount
	percentOverBps := excess * TotalBps / baselineAmount

	// Highest applicable tier wins; tiers are ascending by threshold.
	var rateBps int64
	for _, tier := range cfg.Tiers {
		if tier.ThresholdBps <= percentOverBps {
			rateBps = tier.TaxBps
		}
	}

	tax := excess * rateBps / TotalBps
	if tax > 0 && tax < cfg.MinimumTax {
		tax = cfg.MinimumTax
	}
	return tax
}
