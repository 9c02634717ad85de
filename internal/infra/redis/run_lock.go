package redis

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pyq-pipeline/internal/domain"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a corpus lock shared between hosts through Redis.
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRunLock(client *redis.Client, corpusPath string, ttl time.Duration) *RunLock {
	if abs, err := filepath.Abs(corpusPath); err == nil {
		corpusPath = abs
	}
	return &RunLock{client: client, key: "pyq:lock:" + corpusPath, ttl: ttl}
}

// Key returns the Redis key guarding the corpus.
func (l *RunLock) Key() string { return l.key }

// Acquire sets the key with NX and the configured TTL.
func (l *RunLock) Acquire(ctx context.Context) (func() error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, &domain.StorageError{Op: "acquire redis lock", Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCorpusLocked, l.key)
	}
	release := func() error {
		if err := releaseScript.Run(context.Background(), l.client, []string{l.key}, token).Err(); err != nil {
			return &domain.StorageError{Op: "release redis lock", Err: err}
		}
		return nil
	}
	return release, nil
}
