package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup is a best-effort fast path in front of the store's processed_events
// check. A miss here is never trusted on its own.
type Dedup struct {
	rdb     *redis.Client
	service string
	TTL     time.Duration
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service, TTL: TTLDedup}
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.service, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, d.key(id), time.Now().UTC().Format(time.RFC3339), d.TTL).Err()
}
