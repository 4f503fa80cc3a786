package laiqclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a PersistentStore backed by Redis, for deployments where
// several client instances share one durable cache. Safe for multi-instance
// use: every mutation is published on a pub/sub channel so sibling
// instances can apply it through a RedisChangeFeed.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
}

// RedisStoreOption configures the Redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets a prefix for all Redis keys.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
		s.channel = prefix + ":changes"
	}
}

// NewRedisStore creates a Redis-backed persistent store.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  "laiq:cache",
		channel: "laiq:cache:changes",
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisStore) fullKey(key string) string {
	return s.prefix + ":" + key
}

// LoadAll scans the key namespace and decodes every stored entry. Entries
// that fail to decode are skipped; a half-written record must not prevent
// startup.
func (s *RedisStore) LoadAll(ctx context.Context) ([]StoredEntry, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("laiqclient: redis store is not initialized")
	}

	var entries []StoredEntry
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var entry StoredEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		return entries, fmt.Errorf("laiqclient: redis scan failed: %w", err)
	}
	return entries, nil
}

// Put writes an entry under its remaining TTL and announces the change.
func (s *RedisStore) Put(ctx context.Context, entry StoredEntry) error {
	if s == nil || s.client == nil {
		return errors.New("laiqclient: redis store is not initialized")
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	remaining := entry.TTL - time.Since(entry.CreatedAt)
	if remaining <= 0 {
		return s.Delete(ctx, entry.Key)
	}

	if err := s.client.Set(ctx, s.fullKey(entry.Key), raw, remaining).Err(); err != nil {
		return fmt.Errorf("laiqclient: redis set failed: %w", err)
	}
	s.publish(ctx, Change{Op: ChangePut, Key: entry.Key, Entry: &entry})
	return nil
}

// Delete removes an entry and announces the deletion.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("laiqclient: redis store is not initialized")
	}

	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("laiqclient: redis del failed: %w", err)
	}
	s.publish(ctx, Change{Op: ChangeDelete, Key: key})
	return nil
}

// Clear removes the whole namespace and announces it.
func (s *RedisStore) Clear(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("laiqclient: redis store is not initialized")
	}

	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("laiqclient: redis del failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("laiqclient: redis scan failed: %w", err)
	}
	s.publish(ctx, Change{Op: ChangeClear})
	return nil
}

func (s *RedisStore) publish(ctx context.Context, change Change) {
	raw, err := json.Marshal(change)
	if err != nil {
		return
	}
	// Best effort: a failed announcement degrades sync, not correctness.
	_ = s.client.Publish(ctx, s.channel, raw).Err()
}

// GetRaw, SetRaw and DelRaw make RedisStore usable as the durable backend
// of a PersistentCredentialStore, under a separate key namespace.
func (s *RedisStore) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+":kv:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisStore) SetRaw(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+":kv:"+key, value, 0).Err()
}

func (s *RedisStore) DelRaw(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+":kv:"+key).Err()
}

// RedisChangeFeed subscribes to the store's announcement channel and turns
// messages into Change values for the cache to apply.
type RedisChangeFeed struct {
	pubsub *redis.PubSub
	ch     chan Change
	once   sync.Once
	cancel context.CancelFunc
}

// NewRedisChangeFeed subscribes to the change channel of a RedisStore
// created with the same prefix.
func NewRedisChangeFeed(client *redis.Client, opts ...RedisStoreOption) *RedisChangeFeed {
	cfg := NewRedisStore(client, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(ctx, cfg.channel)

	feed := &RedisChangeFeed{
		pubsub: pubsub,
		ch:     make(chan Change, 64),
		cancel: cancel,
	}

	go feed.pump(ctx)
	return feed
}

func (f *RedisChangeFeed) pump(ctx context.Context) {
	defer close(f.ch)
	for {
		msg, err := f.pubsub.Receive(ctx)
		if err != nil {
			return
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		var change Change
		if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
			continue
		}
		select {
		case f.ch <- change:
		case <-ctx.Done():
			return
		}
	}
}

func (f *RedisChangeFeed) Changes() <-chan Change { return f.ch }

func (f *RedisChangeFeed) Close() error {
	var err error
	f.once.Do(func() {
		f.cancel()
		err = f.pubsub.Close()
	})
	return err
}
