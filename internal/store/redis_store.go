package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKey     = "uiabridge:journal"
	DefaultRedisChannel = "uiabridge:traffic"
)

// RedisStore keeps the journal in a capped list and publishes each entry.
type RedisStore struct {
	client   *redis.Client
	key      string
	channel  string
	capacity int64
}

func NewRedisStore(addr, key, channel string, capacity int) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), key, channel, capacity)
}

func NewRedisStoreWithClient(client *redis.Client, key, channel string, capacity int) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisStore{
		client:   client,
		key:      key,
		channel:  channel,
		capacity: int64(capacity),
	}
}

func (r *RedisStore) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, payload)
	pipe.LTrim(ctx, r.key, 0, r.capacity-1)
	if r.channel != "" {
		pipe.Publish(ctx, r.channel, payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	raw, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
