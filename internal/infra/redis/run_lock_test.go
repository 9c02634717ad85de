package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pyq-pipeline/internal/domain"
)

func TestRunLockExcludesSecondRun(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	lock := NewRunLock(client, "/data/upsc_2024.json", time.Minute)

	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists(lock.Key()) {
		t.Fatalf("expected redis key to be set")
	}
	if _, err := NewRunLock(client, "/data/upsc_2024.json", time.Minute).Acquire(ctx); !errors.Is(err, domain.ErrCorpusLocked) {
		t.Fatalf("expected ErrCorpusLocked, got %v", err)
	}

	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(lock.Key()) {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestRunLockReleaseLeavesForeignToken(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := NewRunLock(client, "/data/upsc_2024.json", time.Minute)
	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Lock expired and was taken by another run.
	mr.FastForward(2 * time.Minute)
	if err := mr.Set(lock.Key(), "other-run"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got, _ := mr.Get(lock.Key()); got != "other-run" {
		t.Fatalf("foreign lock was removed, value %q", got)
	}
}
