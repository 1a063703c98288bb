package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	perrors "github.com/newmanjulien/overbase/internal/errors"
)

const maxTxRetries = 5

// RedisStore keeps one hash per owner and publishes a change message on
// every write, so subscribers in other processes see the same snapshots.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	hub    *hub
	now    func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, logger zerolog.Logger) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "overbase:",
		logger: logger.With().Str("component", "docstore.redis").Logger(),
		now:    time.Now,
	}
	s.hub = newHub(s.List, func() time.Time { return s.now() }, s.logger)
	return s
}

// SetKeyPrefix namespaces every key. Call it before the store is used.
func (s *RedisStore) SetKeyPrefix(prefix string) {
	if prefix != "" {
		s.prefix = prefix
	}
}

func (s *RedisStore) docsKey(owner string) string { return s.prefix + "docs:" + owner }
func (s *RedisStore) ownersKey() string          { return s.prefix + "owners" }
func (s *RedisStore) channel(owner string) string { return s.prefix + "changes:" + owner }

func (s *RedisStore) Get(ctx context.Context, owner, id string) (Document, error) {
	raw, err := s.client.HGet(ctx, s.docsKey(owner), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, perrors.NotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decode(raw)
}

func (s *RedisStore) List(ctx context.Context, owner string) (map[string]Document, error) {
	all, err := s.client.HGetAll(ctx, s.docsKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make(map[string]Document, len(all))
	for id, raw := range all {
		doc, err := decode(raw)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner", owner).Str("id", id).Msg("Skipping undecodable document")
			continue
		}
		out[id] = doc
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, owner, id string, doc Document) error {
	resolved, err := resolve(doc, s.now())
	if err != nil {
		return err
	}
	body, err := encode(dropNils(resolved))
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docsKey(owner), id, body)
		pipe.SAdd(ctx, s.ownersKey(), owner)
		pipe.Publish(ctx, s.channel(owner), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	s.hub.notify(owner)
	return nil
}

func (s *RedisStore) Update(ctx context.Context, owner, id string, fields Document) error {
	resolved, err := resolve(fields, s.now())
	if err != nil {
		return err
	}

	key := s.docsKey(owner)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, id).Result()
		if errors.Is(err, redis.Nil) {
			return perrors.NotFound("document", id)
		}
		if err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		body, err := encode(merge(current, resolved))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, body)
			pipe.Publish(ctx, s.channel(owner), id)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var nf *perrors.NotFoundError
			if errors.As(err, &nf) {
				return err
			}
			return fmt.Errorf("update document: %w", err)
		}
		s.hub.notify(owner)
		return nil
	}
	return fmt.Errorf("update document: %w", redis.TxFailedErr)
}

func (s *RedisStore) Delete(ctx context.Context, owner, id string) error {
	n, err := s.client.HDel(ctx, s.docsKey(owner), id).Result()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return perrors.NotFound("document", id)
	}

	remaining, err := s.client.HLen(ctx, s.docsKey(owner)).Result()
	if err == nil && remaining == 0 {
		s.client.SRem(ctx, s.ownersKey(), owner)
	}
	if err := s.client.Publish(ctx, s.channel(owner), id).Err(); err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("Failed to publish change")
	}
	s.hub.notify(owner)
	return nil
}

func (s *RedisStore) Owners(ctx context.Context) ([]string, error) {
	owners, err := s.client.SMembers(ctx, s.ownersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	sort.Strings(owners)
	return owners, nil
}

// Subscribe delivers a snapshot immediately and then after every change
// published for owner, including writes made by other processes.
func (s *RedisStore) Subscribe(ctx context.Context, owner string, fn Listener) (Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(owner))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	unsub := s.hub.add(subCtx, owner, fn)

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				s.hub.notify(owner)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			cancel()
			pubsub.Close()
		})
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	s.hub.closeAll()
	return s.client.Close()
}
