// Package redisqueue is the durable replay queue backend. Messages are JSON
// documents in a single Redis list: producers RPUSH, the consumer pops from
// the head and LPUSHes back what it could not deliver, and the list is
// trimmed to capacity from the head on every push.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"feedrelay/internal/usecase/deliver"
)

// DefaultKey is the list key used when none is configured.
const DefaultKey = "feedrelay:replay"

// Store implements deliver.Store on a Redis list.
type Store struct {
	client   redis.UniversalClient
	key      string
	capacity int
}

var _ deliver.Store = (*Store)(nil)

// New returns a Store on client. capacity <= 0 selects the deliver default.
func New(client redis.UniversalClient, key string, capacity int) *Store {
	if key == "" {
		key = DefaultKey
	}
	if capacity <= 0 {
		capacity = deliver.DefaultReplayCapacity
	}
	return &Store{client: client, key: key, capacity: capacity}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Push appends msg and trims the list to capacity in one transaction.
func (s *Store) Push(ctx context.Context, msg deliver.Message) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode replay message: %w", err)
	}

	var push *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, s.key, payload)
		pipe.LTrim(ctx, s.key, int64(-s.capacity), -1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("push replay message: %w", err)
	}

	evicted := int(push.Val()) - s.capacity
	if evicted < 0 {
		evicted = 0
	}
	return evicted, nil
}

// Requeue pushes msgs back onto the head, msgs[0] first, and trims the list
// to capacity in one transaction. Trimming drops from the head, so when the
// list is full the oldest of msgs are the ones evicted.
func (s *Store) Requeue(ctx context.Context, msgs []deliver.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	// LPUSH inserts its arguments one by one at the head, so the last
	// argument ends up first.
	payloads := make([]any, len(msgs))
	for i, msg := range msgs {
		b, err := json.Marshal(msg)
		if err != nil {
			return 0, fmt.Errorf("encode replay message: %w", err)
		}
		payloads[len(msgs)-1-i] = b
	}

	var push *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.LPush(ctx, s.key, payloads...)
		pipe.LTrim(ctx, s.key, int64(-s.capacity), -1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue replay messages: %w", err)
	}

	evicted := int(push.Val()) - s.capacity
	if evicted < 0 {
		evicted = 0
	}
	return evicted, nil
}

// Pop removes up to n messages from the head. Entries that fail to decode
// are discarded and reported in the returned error alongside the decoded
// messages.
func (s *Store) Pop(ctx context.Context, n int) ([]deliver.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	var read *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		read = pipe.LRange(ctx, s.key, 0, int64(n-1))
		pipe.LTrim(ctx, s.key, int64(n), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pop replay messages: %w", err)
	}

	raw := read.Val()
	out := make([]deliver.Message, 0, len(raw))
	var errs []error
	for _, r := range raw {
		var msg deliver.Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			errs = append(errs, fmt.Errorf("decode replay message: %w", err))
			continue
		}
		out = append(out, msg)
	}
	return out, errors.Join(errs...)
}

// Len returns the list length.
func (s *Store) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("replay queue length: %w", err)
	}
	return int(n), nil
}
