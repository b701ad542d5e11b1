package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default key layout.  Each reservation with a pending auto-completion owns
// a string key holding the due instant as Unix milliseconds; the sorted set
// indexes the same entries by due time so that a tick only reads what is due.
const (
	DefaultCompletionPrefix = "reservation:job:"
	DefaultCompletionIndex  = "reservation:due"
)

// DueEntry is one scheduled completion.
type DueEntry struct {
	ReservationID uint64
	DueAt         time.Time
}

// CompletionRegistry is the Redis-backed index of scheduled completions.
// Redis persists entries outside the process, so a restarted scheduler
// picks up exactly where the previous one stopped.
type CompletionRegistry struct {
	rdb    redis.UniversalClient
	prefix string
	index  string
}

// NewCompletionRegistry returns a registry using the default key layout.
func NewCompletionRegistry(rdb redis.UniversalClient) *CompletionRegistry {
	return &CompletionRegistry{rdb: rdb, prefix: DefaultCompletionPrefix, index: DefaultCompletionIndex}
}

func (r *CompletionRegistry) key(id uint64) string {
	return r.prefix + strconv.FormatUint(id, 10)
}

// Set records (or replaces) the due time of a reservation.  The key and its
// index entry are written in one MULTI/EXEC block.
func (r *CompletionRegistry) Set(ctx context.Context, reservationID uint64, due time.Time) error {
	ms := due.UnixMilli()
	member := strconv.FormatUint(reservationID, 10)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(reservationID), ms, 0)
		p.ZAdd(ctx, r.index, redis.Z{Score: float64(ms), Member: member})
		return nil
	})
	return err
}

// Get returns the due time of a reservation.  The boolean is false when no
// entry exists.
func (r *CompletionRegistry) Get(ctx context.Context, reservationID uint64) (time.Time, bool, error) {
	ms, err := r.rdb.Get(ctx, r.key(reservationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Delete removes the entry of a reservation.  Deleting a missing entry is
// not an error.
func (r *CompletionRegistry) Delete(ctx context.Context, reservationID uint64) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key(reservationID))
		p.ZRem(ctx, r.index, strconv.FormatUint(reservationID, 10))
		return nil
	})
	return err
}

// Due returns the entries whose due time is at or before now, earliest first.
func (r *CompletionRegistry) Due(ctx context.Context, now time.Time) ([]DueEntry, error) {
	zs, err := r.rdb.ZRangeByScoreWithScores(ctx, r.index, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(zs), nil
}

// All returns every entry, earliest first.
func (r *CompletionRegistry) All(ctx context.Context) ([]DueEntry, error) {
	zs, err := r.rdb.ZRangeWithScores(ctx, r.index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return toEntries(zs), nil
}

// Reindex scans the per-reservation keys and adds any of them missing from
// the sorted set.  Keys written by older deployments that only set the
// string key become visible to Due this way.  It returns how many index
// entries were added.
func (r *CompletionRegistry) Reindex(ctx context.Context) (int, error) {
	added := 0
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := strconv.ParseUint(strings.TrimPrefix(key, r.prefix), 10, 64)
		if err != nil {
			continue
		}
		ms, err := r.rdb.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return added, err
		}
		n, err := r.rdb.ZAddNX(ctx, r.index, redis.Z{Score: float64(ms), Member: strconv.FormatUint(id, 10)}).Result()
		if err != nil {
			return added, err
		}
		added += int(n)
	}
	return added, iter.Err()
}

func toEntries(zs []redis.Z) []DueEntry {
	out := make([]DueEntry, 0, len(zs))
	for _, z := range zs {
		s, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, DueEntry{ReservationID: id, DueAt: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out
}
