// Package shard maps string keys onto a fixed number of lock stripes so that
// per-client state can be updated atomically without a single global mutex.
package shard

import "github.com/cespare/xxhash/v2"

// Count is the number of stripes used by the in-memory abuse stores.
const Count = 64

// Index returns the stripe for key in [0, Count).
func Index(key string) int {
	return int(xxhash.Sum64String(key) % Count)
}
