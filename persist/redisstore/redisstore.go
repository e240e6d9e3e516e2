// Package redisstore persists cache records in Redis so a working set can
// follow the user across processes sharing one Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IvanBrykalov/syncache/persist"
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "syncache:"
	// TTLJitterPercent spreads expirations so a session's keys do not all
	// lapse together.
	TTLJitterPercent = 0.1
)

// Options configures a Store.
type Options struct {
	Prefix string
	// TTL bounds how long a record survives without being rewritten.
	// Zero keeps records until purged.
	TTL time.Duration
}

// Store implements persist.Store on Redis. Each record is a hash
// {v: payload, t: unix nanos}; a per-user set indexes the record keys.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ persist.Store = (*Store)(nil)

// saveScript writes a record unless the stored one is newer, then indexes it.
var saveScript = redis.NewScript(`
local t = redis.call('HGET', KEYS[1], 't')
if t and tonumber(t) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 't', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

// New wraps an existing client.
func New(client redis.UniversalClient, opt Options) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: redis client cannot be nil")
	}
	if opt.Prefix == "" {
		opt.Prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: opt.Prefix, ttl: opt.TTL}, nil
}

func (s *Store) entryKey(userID, key string) string {
	return fmt.Sprintf("%sentry:%s:%s", s.prefix, userID, key)
}

func (s *Store) indexKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

func (s *Store) Save(ctx context.Context, r persist.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	ttl := addJitter(s.ttl)
	err := saveScript.Run(ctx, s.client,
		[]string{s.entryKey(r.UserID, r.Key), s.indexKey(r.UserID)},
		r.Payload, r.StoredAt.UnixNano(), ttl.Milliseconds(), r.Key,
	).Err()
	if err != nil {
		return fmt.Errorf("redisstore: save %s: %w", r.Key, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, userID string) ([]persist.Record, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load index %s: %w", userID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.entryKey(userID, k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisstore: load %s: %w", userID, err)
	}

	out := make([]persist.Record, 0, len(keys))
	var expired []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		ts, err := strconv.ParseInt(fields["t"], 10, 64)
		if len(fields) == 0 || err != nil {
			expired = append(expired, keys[i])
			continue
		}
		out = append(out, persist.Record{
			Key:      keys[i],
			UserID:   userID,
			Payload:  []byte(fields["v"]),
			StoredAt: time.Unix(0, ts),
		})
	}
	if len(expired) > 0 {
		// Entries that lapsed by TTL leave their index member behind.
		s.client.SRem(ctx, s.indexKey(userID), expired...)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, userID, key string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.entryKey(userID, key))
		p.SRem(ctx, s.indexKey(userID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, userID string) (int, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: purge %s: %w", userID, err)
	}
	del := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		del = append(del, s.entryKey(userID, k))
	}
	var n int64
	if len(del) > 0 {
		n, err = s.client.Del(ctx, del...).Result()
		if err != nil {
			return 0, fmt.Errorf("redisstore: purge %s: %w", userID, err)
		}
	}
	if err := s.client.Del(ctx, s.indexKey(userID)).Err(); err != nil {
		return int(n), fmt.Errorf("redisstore: purge index %s: %w", userID, err)
	}
	return int(n), nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// addJitter adds up to TTLJitterPercent of random extra time to a TTL.
func addJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	jitter := time.Duration(rand.Float64() * TTLJitterPercent * float64(base))
	return base + jitter
}
