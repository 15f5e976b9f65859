package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/sequencer/internal/models"
)

const (
	receiptTTL = 24 * time.Hour
	getBatch   = 256
)

// RedisStore handles Redis operations: the durable index when STORE_DRIVER is
// redis, plus the upload receipt cache.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() {
	s.client.Close()
}

// Client returns the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func messageKey(id string) string {
	return fmt.Sprintf("message:%s", id)
}

func processKey(id string) string {
	return fmt.Sprintf("process:%s", id)
}

// processMessagesKey returns the key for the set of a process's message ids.
func processMessagesKey(processID string) string {
	return fmt.Sprintf("process:%s:messages", processID)
}

func receiptKey(key string) string {
	return fmt.Sprintf("receipt:%s", key)
}

// SaveMessage stores msg with SETNX so an existing id is never overwritten.
// The id is added to the process set first; readers skip ids whose value is
// missing, so a failure between the two steps is invisible and a retry repairs it.
func (s *RedisStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	defer observe("save_message", time.Now())

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	if err := s.client.SAdd(ctx, processMessagesKey(msg.ProcessID), msg.ID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	ok, err := s.client.SetNX(ctx, messageKey(msg.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, msg.ID)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *RedisStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observe("get_message", time.Now())

	data, err := s.client.Get(ctx, messageKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, id)
		}
		return nil, err
	}

	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessages returns every message of a process in no particular order.
func (s *RedisStore) GetMessages(ctx context.Context, processID string) ([]models.Message, error) {
	defer observe("get_messages", time.Now())

	ids, err := s.client.SMembers(ctx, processMessagesKey(processID)).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(ids))
	for start := 0; start < len(ids); start += getBatch {
		end := min(start+getBatch, len(ids))

		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, messageKey(id))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue // indexed but not yet written
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(str), &msg); err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// SaveProcess stores p with SETNX so an existing id is never overwritten.
func (s *RedisStore) SaveProcess(ctx context.Context, p *models.Process) error {
	defer observe("save_process", time.Now())

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	ok, err := s.client.SetNX(ctx, processKey(p.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.ID)
	}
	return nil
}

// GetProcess retrieves a process by ID.
func (s *RedisStore) GetProcess(ctx context.Context, id string) (*models.Process, error) {
	defer observe("get_process", time.Now())

	data, err := s.client.Get(ctx, processKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: process %s", ErrNotFound, id)
		}
		return nil, err
	}

	var p models.Process
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetReceipt returns the receipt cached under an upload idempotency key,
// or nil if there is none.
func (s *RedisStore) GetReceipt(ctx context.Context, key string) (*models.Receipt, error) {
	data, err := s.client.Get(ctx, receiptKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var r models.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutReceipt caches r under an upload idempotency key.
func (s *RedisStore) PutReceipt(ctx context.Context, key string, r *models.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, receiptKey(key), data, receiptTTL).Err()
}
