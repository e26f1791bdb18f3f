// Package keystore persists the credential pool in Redis so that status
// transitions survive restarts and are shared by every server instance.
//
// Layout:
//
//	studio:credentials:order   LIST  credential ids in pool order
//	studio:credentials:data    HASH  id -> credential JSON (without status)
//	studio:credentials:status  HASH  id -> status
//	studio:credentials:primary STRING pinned credential id
//
// The environment-provided system credential is never written to Redis. It is
// held in memory, listed first, and its status is process-local.
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/pkg/credential"
)

// Redis keys for credential pool storage.
const (
	RedisKeyOrder   = "studio:credentials:order"
	RedisKeyData    = "studio:credentials:data"
	RedisKeyStatus  = "studio:credentials:status"
	RedisKeyPrimary = "studio:credentials:primary"
)

// ErrInvalidRecord indicates a stored credential could not be decoded.
var ErrInvalidRecord = errors.New("invalid credential record")

var keystoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "studio_keystore_errors_total",
	Help: "Credential store operation errors by operation",
}, []string{"operation"})

// record is the stored form of a credential; status lives in its own hash so
// that transitions are single HSET writes.
type record struct {
	ID     string `json:"id"`
	Value  string `json:"value"`
	Masked string `json:"masked"`
}

// RedisStore is a credential.Store backed by Redis.
type RedisStore struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	system *credential.Credential
}

// NewRedisStore creates a Redis-backed credential store. system may be nil
// when no environment key is configured.
func NewRedisStore(redisClient *redis.Client, system *credential.Credential, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &RedisStore{
		redis:  redisClient,
		logger: logger,
	}
	if system != nil {
		c := *system
		s.system = &c
	}
	return s
}

var _ credential.Store = (*RedisStore)(nil)

// List returns the system credential (if any) followed by stored credentials
// in insertion order.
func (s *RedisStore) List(ctx context.Context) ([]credential.Credential, error) {
	ids, err := s.redis.LRange(ctx, RedisKeyOrder, 0, -1).Result()
	if err != nil {
		keystoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]credential.Credential, 0, len(ids)+1)
	if sys, ok := s.systemCredential(); ok {
		out = append(out, sys)
	}
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.redis.Pipeline()
	dataCmd := pipe.HMGet(ctx, RedisKeyData, ids...)
	statusCmd := pipe.HMGet(ctx, RedisKeyStatus, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		keystoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("redis hmget: %w", err)
	}

	data := dataCmd.Val()
	statuses := statusCmd.Val()
	for i, id := range ids {
		raw, ok := data[i].(string)
		if !ok {
			// Order entry without data: a concurrent Remove is in flight.
			continue
		}
		status, _ := statuses[i].(string)
		c, err := decode(raw, status)
		if err != nil {
			keystoreErrors.WithLabelValues("list").Inc()
			s.logger.Warn().Err(err).Str("id", id).Msg("Skipping unreadable credential")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Get returns one credential or credential.ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (credential.Credential, error) {
	if id == credential.SystemCredentialID {
		if sys, ok := s.systemCredential(); ok {
			return sys, nil
		}
		return credential.Credential{}, credential.ErrNotFound
	}

	pipe := s.redis.Pipeline()
	dataCmd := pipe.HGet(ctx, RedisKeyData, id)
	statusCmd := pipe.HGet(ctx, RedisKeyStatus, id)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		keystoreErrors.WithLabelValues("get").Inc()
		return credential.Credential{}, fmt.Errorf("redis hget: %w", err)
	}

	raw, err := dataCmd.Result()
	if err == redis.Nil {
		return credential.Credential{}, credential.ErrNotFound
	}
	if err != nil {
		keystoreErrors.WithLabelValues("get").Inc()
		return credential.Credential{}, fmt.Errorf("redis hget: %w", err)
	}
	return decode(raw, statusCmd.Val())
}

// Add appends credentials atomically.
func (s *RedisStore) Add(ctx context.Context, creds ...credential.Credential) error {
	if len(creds) == 0 {
		return nil
	}

	pipe := s.redis.TxPipeline()
	for _, c := range creds {
		if c.System || c.ID == credential.SystemCredentialID {
			return credential.ErrSystemCredential
		}
		data, err := json.Marshal(record{ID: c.ID, Value: c.Value, Masked: c.Masked})
		if err != nil {
			return fmt.Errorf("marshal credential: %w", err)
		}
		status := c.Status
		if !status.Valid() {
			status = credential.StatusUnvalidated
		}
		pipe.RPush(ctx, RedisKeyOrder, c.ID)
		pipe.HSet(ctx, RedisKeyData, c.ID, data)
		pipe.HSet(ctx, RedisKeyStatus, c.ID, string(status))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		keystoreErrors.WithLabelValues("add").Inc()
		return fmt.Errorf("store credentials in redis: %w", err)
	}
	return nil
}

// Remove deletes a user credential and unpins it if it was the primary.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	if id == credential.SystemCredentialID {
		return credential.ErrSystemCredential
	}

	exists, err := s.redis.HExists(ctx, RedisKeyData, id).Result()
	if err != nil {
		keystoreErrors.WithLabelValues("remove").Inc()
		return fmt.Errorf("redis hexists: %w", err)
	}
	if !exists {
		return credential.ErrNotFound
	}

	primary, err := s.Primary(ctx)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.LRem(ctx, RedisKeyOrder, 0, id)
	pipe.HDel(ctx, RedisKeyData, id)
	pipe.HDel(ctx, RedisKeyStatus, id)
	if primary == id {
		pipe.Del(ctx, RedisKeyPrimary)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		keystoreErrors.WithLabelValues("remove").Inc()
		return fmt.Errorf("remove credential from redis: %w", err)
	}
	return nil
}

// Clear deletes every stored credential and the primary. The system
// credential is kept.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, RedisKeyOrder, RedisKeyData, RedisKeyStatus, RedisKeyPrimary).Err(); err != nil {
		keystoreErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// UpdateStatus writes one status transition.
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status credential.Status) error {
	if !status.Valid() {
		return fmt.Errorf("unknown credential status %q", status)
	}

	if id == credential.SystemCredentialID {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.system == nil {
			return credential.ErrNotFound
		}
		s.system.Status = status
		return nil
	}

	exists, err := s.redis.HExists(ctx, RedisKeyData, id).Result()
	if err != nil {
		keystoreErrors.WithLabelValues("update_status").Inc()
		return fmt.Errorf("redis hexists: %w", err)
	}
	if !exists {
		return credential.ErrNotFound
	}
	if err := s.redis.HSet(ctx, RedisKeyStatus, id, string(status)).Err(); err != nil {
		keystoreErrors.WithLabelValues("update_status").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	s.logger.Debug().Str("id", id).Str("status", string(status)).Msg("Credential status stored")
	return nil
}

// Primary returns the pinned credential id, "" in rotation mode.
func (s *RedisStore) Primary(ctx context.Context) (string, error) {
	id, err := s.redis.Get(ctx, RedisKeyPrimary).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		keystoreErrors.WithLabelValues("primary").Inc()
		return "", fmt.Errorf("redis get: %w", err)
	}
	return id, nil
}

// SetPrimary pins a credential; "" switches to rotation mode.
func (s *RedisStore) SetPrimary(ctx context.Context, id string) error {
	var err error
	if id == "" {
		err = s.redis.Del(ctx, RedisKeyPrimary).Err()
	} else {
		err = s.redis.Set(ctx, RedisKeyPrimary, id, 0).Err()
	}
	if err != nil {
		keystoreErrors.WithLabelValues("set_primary").Inc()
		return fmt.Errorf("store primary in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) systemCredential() (credential.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.system == nil {
		return credential.Credential{}, false
	}
	return *s.system, true
}

func decode(raw, status string) (credential.Credential, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	st := credential.Status(status)
	if !st.Valid() {
		st = credential.StatusUnvalidated
	}
	return credential.Credential{
		ID:     r.ID,
		Value:  r.Value,
		Masked: r.Masked,
		Status: st,
	}, nil
}
