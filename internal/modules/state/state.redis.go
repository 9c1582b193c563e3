package state

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

// RedisStore keeps one key per submission record, written with SET NX so
// the first completion for a period wins.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, metrics *observability.Metrics) *RedisStore {
	if prefix == "" {
		prefix = "autopunch"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		metrics: metrics,
	}
}

func (s *RedisStore) recordKey(accountID string, kind domain.Kind, period domain.Period) string {
	return fmt.Sprintf("%s:sub:%s:%s:%s", s.prefix, accountID, kind, period)
}

func (s *RedisStore) sessionKey(accountID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, accountID)
}

func (s *RedisStore) HasSubmitted(ctx context.Context, accountID string, kind domain.Kind, period domain.Period) (bool, error) {
	start := time.Now()
	n, err := s.client.Exists(ctx, s.recordKey(accountID, kind, period)).Result()
	observe(s.metrics, BackendRedis, "has_submitted", start, err)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeStore, "failed to read submission record")
	}
	return n > 0, nil
}

func (s *RedisStore) RecordSubmitted(ctx context.Context, record domain.SubmissionRecord) error {
	completedAt := record.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	start := time.Now()
	key := s.recordKey(record.AccountID, record.Kind, record.Period)
	err := s.client.SetNX(ctx, key, completedAt.UTC().Format(time.RFC3339), s.ttl).Err()
	observe(s.metrics, BackendRedis, "record_submitted", start, err)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStore, "failed to persist submission record")
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context, accountID string) (*domain.Session, error) {
	start := time.Now()
	payload, err := s.client.Get(ctx, s.sessionKey(accountID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		observe(s.metrics, BackendRedis, "load_session", start, nil)
		return nil, nil
	}
	observe(s.metrics, BackendRedis, "load_session", start, err)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStore, "failed to read cached session")
	}

	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, nil
	}
	return &session, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, accountID string, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode session")
	}

	start := time.Now()
	err = s.client.Set(ctx, s.sessionKey(accountID), string(payload), 0).Err()
	observe(s.metrics, BackendRedis, "save_session", start, err)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStore, "failed to cache session")
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, accountID string) error {
	start := time.Now()
	err := s.client.Del(ctx, s.sessionKey(accountID)).Err()
	observe(s.metrics, BackendRedis, "delete_session", start, err)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStore, "failed to delete cached session")
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Backend() string { return BackendRedis }

func (s *RedisStore) Close() error {
	return s.client.Close()
}
