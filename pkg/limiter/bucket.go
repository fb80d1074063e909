package limiter

import "time"

// refillAndDebit advances a bucket to the store-clock instant now and attempts
// to remove one token. It is the caller-side twin of token_bucket.lua: the
// refill saturates at max, a clock step backward neither mints tokens nor
// rewinds the refill horizon, and the horizon advances whether or not the
// debit succeeds. Times are fractional seconds since the epoch, matching the
// persisted representation.
func refillAndDebit(tokens, lastRefill, now, max, perSecond float64) (newTokens, newLastRefill float64, granted bool) {
	if now < lastRefill {
		now = lastRefill
	}
	tokens += (now - lastRefill) * perSecond
	if tokens > max {
		tokens = max
	}
	if tokens >= 1 {
		return tokens - 1, now, true
	}
	return tokens, now, false
}

// epochSeconds converts t to the fractional-seconds representation bucket
// state is kept in.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
