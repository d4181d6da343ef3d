package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"insightpipe/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the lock TTL only if it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// advanceScript stores ARGV[1] only if it is greater than the current value.
var advanceScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local n = tonumber(ARGV[1])
if n > current then
	redis.call("SET", KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// DefaultRunLockTTL applies when NewRunLock is given no TTL.
const DefaultRunLockTTL = 2 * time.Minute

// RunLock is a per-organization run guard shared by every process that
// points at the same Redis. A held lock is extended every ttl/3 until it is
// released, so the TTL only bounds how long a crashed holder blocks the org.
type RunLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = DefaultRunLockTTL
	}
	return &RunLock{client: client, prefix: "insightpipe:run:", ttl: ttl}
}

// TryAcquire takes the org's run token. It returns ErrConcurrentRunConflict
// when another run holds it.
func (l *RunLock) TryAcquire(ctx context.Context, orgID string) (func(), error) {
	key := l.prefix + orgID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrConcurrentRunConflict
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}
	return release, nil
}

// keepAlive extends the lock until stop is closed or the token is lost.
func (l *RunLock) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		held, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err == nil && held == 0 {
			return
		}
	}
}

// Watermarks records the highest insight count already evaluated per org.
type Watermarks struct {
	client *redis.Client
	prefix string
}

func NewWatermarks(client *redis.Client) *Watermarks {
	return &Watermarks{client: client, prefix: "insightpipe:evaluated:"}
}

// Advance reports whether n is newer than every count evaluated before.
func (w *Watermarks) Advance(ctx context.Context, orgID string, n int64) (bool, error) {
	res, err := advanceScript.Run(ctx, w.client, []string{w.prefix + orgID}, n).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("advance watermark: %w", err)
	}
	return res == 1, nil
}
