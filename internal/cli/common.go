package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/config"
	"pyq-pipeline/internal/corpus"
	"pyq-pipeline/internal/domain"
	redislock "pyq-pipeline/internal/infra/redis"
)

// writeCorpus checks the output invariants and saves atomically.
func writeCorpus(path string, c *domain.CorpusFile) error {
	c.SyncTotal()
	if err := app.CheckInvariants(c); err != nil {
		return err
	}
	return corpus.Save(path, c)
}

func outputPath(input, output string) string {
	if output == "" {
		return input
	}
	return output
}

func printReport(w io.Writer, v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newLocker picks the Redis run lock when configured, else the sidecar file.
func newLocker(cfg config.Config, corpusPath string) (app.Locker, func()) {
	if cfg.Lock.RedisAddr == "" {
		return corpus.NewFileLock(corpusPath), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	ttl := config.TTLDuration(cfg.Lock.TTL, 2*time.Hour)
	return redislock.NewRunLock(client, corpusPath, ttl), func() { client.Close() }
}

// withLock runs fn while holding the corpus lock.
func withLock(ctx context.Context, cfg config.Config, corpusPath string, fn func() error) error {
	locker, closeFn := newLocker(cfg, corpusPath)
	defer closeFn()
	release, err := locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			log.Printf("release lock: %v", err)
		}
	}()
	return fn()
}

func summarizeInts(label string, ns []int) string {
	if len(ns) == 0 {
		return fmt.Sprintf("%s: none", label)
	}
	return fmt.Sprintf("%s (%d): %v", label, len(ns), ns)
}
