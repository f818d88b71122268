package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aweris/gallery/internal/compression"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "gallery"

// RedisStore implements Store on Redis.
//
// Key layout (prefix "gallery"):
//
//	gallery:index       sorted set of ids scored by upload time (µs)
//	gallery:meta:<id>   msgpack-encoded Metadata
//	gallery:data:<id>   payload
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	compressor *compression.Compressor
}

// NewRedisStore wraps an existing client. The store takes ownership of the
// client and the compressor; Close releases both.
func NewRedisStore(client redis.UniversalClient, prefix string, compressor *compression.Compressor) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		compressor: compressor,
	}
}

// OpenRedis connects to the Redis server at rawURL (redis:// or rediss://)
// and verifies the connection.
func OpenRedis(ctx context.Context, rawURL, prefix string, compressor *compression.Compressor) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 2 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w: %w", ErrUnavailable, err)
	}
	return NewRedisStore(client, prefix, compressor), nil
}

func (s *RedisStore) List(ctx context.Context) ([]Metadata, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, s.wrap("list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.metaKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.wrap("list metadata", err)
	}

	out := make([]Metadata, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between ZRANGE and MGET.
			continue
		}
		var meta Metadata
		if err := msgpack.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata %q: %w", ids[i], err)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	stored, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("blob %q: %w", id, ErrNotFound)
		}
		return nil, s.wrap("get "+id, err)
	}
	data, err := s.decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("blob %q: %w", id, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, data []byte, req PutRequest) (string, error) {
	meta := Metadata{
		ID:          uuid.NewString(),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Size:        int64(len(data)),
		UploadedAt:  time.Now().UTC(),
	}
	encoded, err := msgpack.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(meta.ID), s.compress(data), 0)
		pipe.Set(ctx, s.metaKey(meta.ID), encoded, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(meta.UploadedAt.UnixMicro()),
			Member: meta.ID,
		})
		return nil
	})
	if err != nil {
		return "", s.wrap("put", err)
	}
	return meta.ID, nil
}

// Delete removes a blob. The index entry and the keys go in one
// transaction; only the caller that removes the id from the index reports
// true.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.indexKey(), id)
		pipe.Del(ctx, s.metaKey(id), s.dataKey(id))
		return nil
	})
	if err != nil {
		return false, s.wrap("delete "+id, err)
	}
	return removed.Val() > 0, nil
}

// Close closes the underlying client and compressor.
func (s *RedisStore) Close() error {
	if s.compressor != nil {
		_ = s.compressor.Close()
	}
	return s.client.Close()
}

func (s *RedisStore) compress(data []byte) []byte {
	if s.compressor == nil {
		return data
	}
	return s.compressor.Compress(data)
}

func (s *RedisStore) decompress(data []byte) ([]byte, error) {
	if s.compressor == nil {
		return data, nil
	}
	return s.compressor.Decompress(data)
}

func (s *RedisStore) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return fmt.Errorf("redis %s: %w: %w", op, ErrUnavailable, err)
}

func (s *RedisStore) indexKey() string        { return s.prefix + ":index" }
func (s *RedisStore) metaKey(id string) string { return s.prefix + ":meta:" + id }
func (s *RedisStore) dataKey(id string) string { return s.prefix + ":data:" + id }
