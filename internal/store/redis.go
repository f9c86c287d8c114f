package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldValue   = "value"
	fieldVersion = "version"
	orderKey     = "__order"
)

// RedisStore keeps each entry in a hash {value, version} and tracks insertion order
// in a sorted set so prefix scans come back oldest first.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreFromClient(client, opts.KeyPrefix)
}

func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeHash(key, fields)
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	full := r.prefix + key
	var next int64
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, full, fieldVersion).Result()
		var current int64
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt version for %s: %w", key, err)
			}
		}
		if current != expected {
			return ErrVersionMismatch
		}
		next = expected + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, full, fieldValue, value, fieldVersion, next)
			pipe.ZAddNX(ctx, r.prefix+orderKey, redis.Z{Score: float64(time.Now().UnixNano()), Member: key})
			return nil
		})
		return err
	}, full)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrVersionMismatch), errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionMismatch
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (r *RedisStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	keys, err := r.client.ZRange(ctx, r.prefix+orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	if len(matched) == 0 {
		return []Entry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(matched))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range matched {
			cmds[i] = pipe.HGetAll(ctx, r.prefix+key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]Entry, 0, len(matched))
	for i, key := range matched {
		entry, err := decodeHash(key, cmds[i].Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func decodeHash(key string, fields map[string]string) (Entry, error) {
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupt version for %s: %w", key, err)
	}
	return Entry{Key: key, Value: []byte(fields[fieldValue]), Version: version}, nil
}
