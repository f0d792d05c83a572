// Package store persists the offline sync queue. The replay order contract is
// FIFO per client: entries leave the queue only from the head.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"custodian/internal/sync/models"
	"custodian/pkg/platform/sentinel"
)

const resultHistoryLimit = 200

// RedisStore keeps one pending list and one capped result list per client.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func queueKey(clientID string) string   { return "sync:queue:" + clientID }
func resultsKey(clientID string) string { return "sync:results:" + clientID }

// Enqueue appends the entry to the tail of the client's queue.
func (s *RedisStore) Enqueue(ctx context.Context, entry *models.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal sync entry: %w", err)
	}
	if err := s.client.RPush(ctx, queueKey(entry.ClientID), raw).Err(); err != nil {
		return fmt.Errorf("enqueue sync entry: %w", err)
	}
	return nil
}

// Peek returns the head of the client's queue without removing it.
func (s *RedisStore) Peek(ctx context.Context, clientID string) (*models.Entry, error) {
	raw, err := s.client.LIndex(ctx, queueKey(clientID), 0).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("peek sync queue: %w", err)
	}
	var entry models.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal sync entry: %w", err)
	}
	return &entry, nil
}

// UpdateHead rewrites the head entry in place, preserving queue order.
func (s *RedisStore) UpdateHead(ctx context.Context, entry *models.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal sync entry: %w", err)
	}
	if err := s.client.LSet(ctx, queueKey(entry.ClientID), 0, raw).Err(); err != nil {
		return fmt.Errorf("update sync entry: %w", err)
	}
	return nil
}

// CompleteHead pops the head of the queue and records its final state in the
// client's capped result history.
func (s *RedisStore) CompleteHead(ctx context.Context, entry *models.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal sync entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPop(ctx, queueKey(entry.ClientID))
	pipe.LPush(ctx, resultsKey(entry.ClientID), raw)
	pipe.LTrim(ctx, resultsKey(entry.ClientID), 0, resultHistoryLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete sync entry: %w", err)
	}
	return nil
}

// ListPending returns the client's queued entries in replay order.
func (s *RedisStore) ListPending(ctx context.Context, clientID string) ([]*models.Entry, error) {
	return s.list(ctx, queueKey(clientID))
}

// ListResults returns the client's most recently finalized entries, newest
// first.
func (s *RedisStore) ListResults(ctx context.Context, clientID string) ([]*models.Entry, error) {
	return s.list(ctx, resultsKey(clientID))
}

func (s *RedisStore) list(ctx context.Context, key string) ([]*models.Entry, error) {
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sync entries: %w", err)
	}
	out := make([]*models.Entry, 0, len(raws))
	for _, raw := range raws {
		var entry models.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal sync entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, nil
}
