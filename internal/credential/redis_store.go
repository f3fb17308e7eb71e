package credential

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "greenhouse:credential"

	changeSet   = "set"
	changeClear = "clear"
)

// RedisStore persists the credential under "<prefix>:token" and announces
// every write on "<prefix>:changes".
type RedisStore struct {
	client  goredis.UniversalClient
	key     string
	channel string
}

// NewRedisStore constructs a RedisStore. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client goredis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, key: prefix + ":token", channel: prefix + ":changes"}, nil
}

func (s *RedisStore) Get(ctx context.Context) (Value, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return Absent(), nil
	}
	if err != nil {
		return Value{}, fmt.Errorf("credential: get: %w", err)
	}
	return Present(token), nil
}

func (s *RedisStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key, token, 0)
		pipe.Publish(ctx, s.channel, changeSet)
		return nil
	})
	if err != nil {
		return fmt.Errorf("credential: set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.Publish(ctx, s.channel, changeClear)
		return nil
	})
	if err != nil {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}

// Watch subscribes before reading so no write between the read and the
// subscription is missed. Every notification re-reads the key, so watchers
// converge on the last write even if notifications interleave.
func (s *RedisStore) Watch(ctx context.Context, emit func(Value)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("credential: subscribe: %w", err)
	}

	current, err := s.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	emit(current)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return errUpstreamEnded
			}
			v, err := s.Get(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			emit(v)
		}
	}
}
