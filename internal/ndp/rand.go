package ndp

import "math/rand"

// defaultRandFactor returns a pseudo-random float64 in [0, 1), used to
// spread REACHABLE-timeout expiries across neighbors sharing a link (RFC
// 4861 §6.3.4). It is not cryptographically meaningful and is overridden in
// tests that need deterministic timing.
func defaultRandFactor() float64 {
	return rand.Float64()
}
