package redisx

import "time"

const (
	// Mutation lock: lock:{settlement key} -> owner token
	KeyLock = "lock:%s"

	// Dedup of gateway events: dedup:{service}:{idempotency key}
	KeyDedup = "dedup:%s:%s"
)

var (
	// TTLLock outlives any single settlement operation; it only matters if the holder dies.
	TTLLock  = 30 * time.Second
	TTLDedup = 48 * time.Hour
)
