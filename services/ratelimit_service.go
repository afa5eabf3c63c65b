package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitError reports an exhausted budget together with the wait until
// the next slot frees up.
type RateLimitError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Operation, e.RetryAfter)
}

// RetryAfterSeconds is the client-facing hint, rounded up and never zero.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Rule is one operation's budget within a sliding window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// defaultRules gives every real-time operation an independent budget.
// Operations without a rule are admitted unconditionally.
var defaultRules = map[string]Rule{
	"send_message":      {Limit: 15, Window: 10 * time.Second},
	"typing":            {Limit: 5, Window: 5 * time.Second},
	"mark_as_read":      {Limit: 10, Window: 10 * time.Second},
	"join_conversation": {Limit: 5, Window: 10 * time.Second},
}

// slidingStore is the shared counter state behind the limiter. The Redis
// implementation makes the budget global across processes: reconnecting to
// another instance never resets it.
type slidingStore interface {
	// Prune drops entries recorded before cutoff.
	Prune(ctx context.Context, key string, cutoff time.Time) error
	// Count returns the number of remaining entries.
	Count(ctx context.Context, key string) (int64, error)
	// Add records one permitted operation and bounds the key's lifetime.
	Add(ctx context.Context, key string, at time.Time, ttl time.Duration) error
	// Oldest returns the earliest remaining entry, or the zero time when
	// the window is empty.
	Oldest(ctx context.Context, key string) (time.Time, error)
}

// RateLimiter admits or rejects operations per (identity, operation).
type RateLimiter struct {
	store slidingStore
	rules map[string]Rule
	now   func() time.Time
}

func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{store: &redisSlidingStore{rdb: rdb}, rules: defaultRules, now: time.Now}
}

// Consume admits one operation or fails with a *RateLimitError. Denied
// attempts do not consume budget.
func (l *RateLimiter) Consume(ctx context.Context, userID uuid.UUID, operation string) error {
	rule, ok := l.rules[operation]
	if !ok {
		return nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", operation, userID)
	now := l.now()

	if err := l.store.Prune(ctx, key, now.Add(-rule.Window)); err != nil {
		return err
	}
	count, err := l.store.Count(ctx, key)
	if err != nil {
		return err
	}

	if count >= int64(rule.Limit) {
		oldest, err := l.store.Oldest(ctx, key)
		if err != nil {
			return err
		}
		retry := oldest.Add(rule.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return &RateLimitError{Operation: operation, RetryAfter: retry}
	}

	return l.store.Add(ctx, key, now, rule.Window)
}

type redisSlidingStore struct {
	rdb *redis.Client
}

func (s *redisSlidingStore) Prune(ctx context.Context, key string, cutoff time.Time) error {
	max := strconv.FormatInt(cutoff.UnixNano(), 10)
	return s.rdb.ZRemRangeByScore(ctx, key, "0", max).Err()
}

func (s *redisSlidingStore) Count(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, key).Result()
}

func (s *redisSlidingStore) Add(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	nanos := at.UnixNano()
	member := strconv.FormatInt(nanos, 10)
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nanos), Member: member})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisSlidingStore) Oldest(ctx context.Context, key string) (time.Time, error) {
	entries, err := s.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return time.Time{}, err
	}
	if len(entries) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, int64(entries[0].Score)), nil
}
