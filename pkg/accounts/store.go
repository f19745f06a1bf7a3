// Package accounts is the user registry: it maps an opaque account identifier
// to an encrypted recovery phrase and a destination address, and tracks
// last-activity timestamps for the idle purge. Redis backs production; the
// in-memory store backs tests and single-node deployments.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/utils"
)

var (
	// ErrNotFound means no account exists for the identifier.
	ErrNotFound = errors.New("account not found")
	// ErrCapacity means the registry is full. Surfaced synchronously to the
	// caller of account setup; never reaches the polling loop.
	ErrCapacity = errors.New("account registry at capacity")
)

// Account is one registered owner. SecretCipher is the recovery phrase sealed
// by EncryptSecret; plaintext secrets never touch the store.
type Account struct {
	ID           string
	SecretCipher []byte
	Destination  string
	CreatedAt    time.Time
	LastActive   time.Time
}

// Store is the registry contract consumed by the sweeper app.
type Store interface {
	Put(ctx context.Context, acc Account) error
	Get(ctx context.Context, id string) (Account, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	accounts *xsync.Map[string, Account]
	capacity int
}

// NewMemoryStore builds an in-memory registry with the given capacity
// (0 means unlimited).
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		accounts: xsync.NewMap[string, Account](),
		capacity: capacity,
	}
}

func (s *MemoryStore) Put(_ context.Context, acc Account) error {
	if _, exists := s.accounts.Load(acc.ID); !exists && s.capacity > 0 && s.accounts.Size() >= s.capacity {
		return ErrCapacity
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	if acc.LastActive.IsZero() {
		acc.LastActive = acc.CreatedAt
	}
	s.accounts.Store(acc.ID, acc)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Account, error) {
	acc, ok := s.accounts.Load(id)
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	acc, ok := s.accounts.Load(id)
	if !ok {
		return ErrNotFound
	}
	acc.LastActive = at
	s.accounts.Store(id, acc)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.accounts.Delete(id)
	return nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	return s.accounts.Size(), nil
}

// RedisStore persists accounts as one hash per account.
type RedisStore struct {
	client   *redis.Client
	logger   *zap.Logger
	capacity int
}

const redisKeyPrefix = "sweeper:account:"

// NewRedisStore connects using env configuration.
// Environment variables:
//   - REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB
//   - ACCOUNT_CAPACITY: max registered accounts (default 500)
func NewRedisStore(ctx context.Context, logger *zap.Logger) (*RedisStore, error) {
	addr := fmt.Sprintf("%s:%s", utils.Env("REDIS_HOST", "localhost"), utils.Env("REDIS_PORT", "6379"))
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: utils.Env("REDIS_PASSWORD", ""),
		DB:       utils.EnvInt("REDIS_DB", 0),

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("account store connected to redis", zap.String("addr", addr))
	return &RedisStore{
		client:   rdb,
		logger:   logger,
		capacity: utils.EnvInt("ACCOUNT_CAPACITY", 500),
	}, nil
}

// Client exposes the underlying connection so other subsystems (the event
// mirror) can share it instead of dialing their own.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Put(ctx context.Context, acc Account) error {
	key := redisKeyPrefix + acc.ID
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check account %s: %w", acc.ID, err)
	}
	if exists == 0 && s.capacity > 0 {
		n, err := s.Count(ctx)
		if err != nil {
			return err
		}
		if n >= s.capacity {
			return ErrCapacity
		}
	}

	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	if acc.LastActive.IsZero() {
		acc.LastActive = acc.CreatedAt
	}
	err = s.client.HSet(ctx, key, map[string]interface{}{
		"secret":      acc.SecretCipher,
		"destination": acc.Destination,
		"created_at":  acc.CreatedAt.UnixMilli(),
		"last_active": acc.LastActive.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("store account %s: %w", acc.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Account, error) {
	vals, err := s.client.HGetAll(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return Account{}, fmt.Errorf("load account %s: %w", id, err)
	}
	if len(vals) == 0 {
		return Account{}, ErrNotFound
	}
	acc := Account{
		ID:           id,
		SecretCipher: []byte(vals["secret"]),
		Destination:  vals["destination"],
	}
	acc.CreatedAt = parseMilli(vals["created_at"])
	acc.LastActive = parseMilli(vals["last_active"])
	return acc, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	key := redisKeyPrefix + id
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check account %s: %w", id, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.client.HSet(ctx, key, "last_active", at.UnixMilli()).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisKeyPrefix+id).Err()
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var cursor uint64
	total := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			return 0, fmt.Errorf("scan accounts: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

func parseMilli(v string) time.Time {
	var ms int64
	_, _ = fmt.Sscan(v, &ms)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
