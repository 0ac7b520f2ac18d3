package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

// DefaultRunLockTTL bounds how long a crashed run keeps its source locked.
const DefaultRunLockTTL = 15 * time.Minute

const runLockPrefix = "incident-engine:run-lock:"

// RunLocker prevents two runs of the same source from overlapping.
type RunLocker interface {
	// Acquire takes the lock for key or fails with apperrors.ErrSourceBusy.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// releaseScript deletes the lock only if it still holds our token, so a run
// that outlived its TTL cannot free a lock taken by a newer run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRunLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRunLocker creates a RunLocker shared by every process using client.
func NewRedisRunLocker(client *redis.Client, logger *zap.Logger) RunLocker {
	return &redisRunLocker{
		client: client,
		logger: logger.Named("run-lock"),
	}
}

var _ RunLocker = (*redisRunLocker)(nil)

func (l *redisRunLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultRunLockTTL
	}
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}

	redisKey := runLockPrefix + key
	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock for %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSourceBusy, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The run context may already be cancelled; release regardless.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("Failed to release run lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func newLockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// localRunLocker serializes runs within one process. Used when Redis is not
// configured.
type localRunLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalRunLocker creates a process-local RunLocker.
func NewLocalRunLocker() RunLocker {
	return &localRunLocker{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

var _ RunLocker = (*localRunLocker)(nil)

func (l *localRunLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultRunLockTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSourceBusy, key)
	}
	expires := now.Add(ttl)
	l.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == expires {
				delete(l.held, key)
			}
		})
	}, nil
}
