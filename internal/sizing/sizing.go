// Package sizing converts and combines byte counts that originate in
// untrusted archive metadata, failing instead of overflowing.
package sizing

import "math"

// ToInt converts size to int, returning overflowErr if it does not fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts size to int64, returning overflowErr if it does not fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 returns a + b, reporting false if the sum wraps.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
