package internal

import (
	"math/rand"
	"time"
)

// Jitter returns a random duration in [0, max]. Replaced in tests for determinism.
var Jitter = func(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

// RandomBetween returns a random duration in [lo, hi].
func RandomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + Jitter(hi-lo)
}
