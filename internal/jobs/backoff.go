package jobs

import "time"

// backoffPolicy is the per-type retry tuning: min(base * 2^(attempt-1), cap).
type backoffPolicy struct {
	base time.Duration
	cap  time.Duration
}

var backoffByType = map[Type]backoffPolicy{
	TypeRunTSA:              {base: 30 * time.Second, cap: time.Minute},
	TypeSubmitAnchorPolygon: {base: time.Minute, cap: 10 * time.Minute},
	TypeSubmitAnchorBitcoin: {base: time.Minute, cap: 10 * time.Minute},
	TypeBuildArtifact:       {base: time.Minute, cap: 10 * time.Minute},
}

var defaultBackoff = backoffPolicy{base: time.Minute, cap: 10 * time.Minute}

// Backoff returns the retry delay before the next attempt. Non-decreasing in
// attempt and bounded above by the per-type cap.
func Backoff(jobType Type, attempt int) time.Duration {
	policy, ok := backoffByType[jobType]
	if !ok {
		policy = defaultBackoff
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := policy.base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.cap {
			return policy.cap
		}
	}
	if delay > policy.cap {
		return policy.cap
	}
	return delay
}
