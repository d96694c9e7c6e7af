package economics

// ComputeSplit distributes amount across the config's recipients, flooring
// each share to floor(amount * shareBps / 10000). The flooring remainder
// (at most recipientCount-1 minor units) is NOT assigned to anyone here;
// callers that need the shares to sum to amount exactly must use
// ComputeSplitExact and thereby make the remainder policy explicit.
//
// Assumes a config already accepted by ValidateSplitConfig. Deterministic
// and side-effect-free.
func ComputeSplit(amount int64, cfg SplitConfig) map[string]int64 {
	shares := make(map[string]int64, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		shares[r.Recipient] = amount * r.ShareBps / TotalBps
	}
	return shares
}

// ComputeSplitExact is ComputeSplit with the flooring remainder assigned to
// the last recipient in config order (by marketplace convention, the
// seller). The returned shares always sum to amount exactly.
func ComputeSplitExact(amount int64, cfg SplitConfig) map[string]int64 {
	shares := ComputeSplit(amount, cfg)

	var distributed int64
	for _, share := range shares {
		distributed += share
	}
	if rem := amount - distributed; rem > 0 {
		last := cfg.Recipients[len(cfg.Recipients)-1].Recipient
		shares[last] += rem
	}
	return shares
}
