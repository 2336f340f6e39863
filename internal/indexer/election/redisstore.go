package election

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the subset of the platform Redis client the claim store uses.
// *pkg/redis.Client satisfies it.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// RedisStore keeps records under election:<namespace>:<key>. Create is a
// SETNX. Keys carry no TTL; staleness is judged from Updated like every
// other store.
type RedisStore struct {
	kv     KV
	prefix string
}

func NewRedisStore(kv KV, namespace string) *RedisStore {
	return &RedisStore{kv: kv, prefix: "election:" + namespace + ":"}
}

func (s *RedisStore) Put(ctx context.Context, key string, rec Record) error {
	if err := s.kv.Set(ctx, s.prefix+key, MarshalRecord(rec), 0); err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Create(ctx context.Context, key string, rec Record) (bool, error) {
	ok, err := s.kv.SetNX(ctx, s.prefix+key, MarshalRecord(rec), 0)
	if err != nil {
		return false, fmt.Errorf("redis create %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	val, err := s.kv.Get(ctx, s.prefix+key)
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	rec, _ := UnmarshalRecord([]byte(val))
	return rec, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.kv.Del(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.kv.Keys(ctx, s.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	var out []Entry
	for _, full := range keys {
		key := strings.TrimPrefix(full, s.prefix)
		if !IsClaim(key) && !IsPresence(key) {
			continue
		}
		val, err := s.kv.Get(ctx, full)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		rec, _ := UnmarshalRecord([]byte(val))
		out = append(out, Entry{Key: key, Record: rec})
	}
	return out, nil
}
