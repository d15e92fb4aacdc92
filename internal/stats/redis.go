package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "restdispatch:stats"

// RedisStore keeps hashes of outcome counters:
//
//	<prefix>:total              outcome -> count, never expires
//	<prefix>:minute:<yyyymmddhhmm> outcome -> count, expires after ttl
//	<prefix>:route              "<method> <path>:<outcome>" -> count
//	<prefix>:status             "<status>" -> count
type RedisStore struct {
	rdb redis.UniversalClient

	prefix string
	ttl    time.Duration
	// bucket is "minute" or "none".
	bucket string
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func WithBucket(bucket string) RedisOption {
	return func(s *RedisStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// NewRedisStore returns a store writing through rdb. A nil client gives a
// store that silently drops everything.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: DefaultPrefix,
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", ev.Outcome, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, ev.Outcome, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+ev.Outcome, 1)
	}
	if ev.Status != 0 {
		pipe.HIncrBy(ctx, s.prefix+":status", strconv.Itoa(ev.Status), 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording stats in redis: %w", err)
	}
	return nil
}

// Total reads the cumulative counters back.
func (s *RedisStore) Total(ctx context.Context) (Counters, error) {
	out := make(Counters)
	if s == nil || s.rdb == nil {
		return out, nil
	}

	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, fmt.Errorf("reading stats from redis: %w", err)
	}
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s holds %q: %w", k, v, err)
		}
		out[k] = n
	}
	return out, nil
}
