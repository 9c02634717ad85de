package corpus

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"

	"pyq-pipeline/internal/domain"
)

// FileLock holds an advisory flock on a sidecar "<corpus>.lock" file. The
// kernel drops the lock when the holding process exits, so a crashed run never
// blocks the next one. The sidecar itself is left in place.
type FileLock struct {
	lock *flock.Flock
}

func NewFileLock(corpusPath string) *FileLock {
	return &FileLock{lock: flock.New(corpusPath + ".lock")}
}

// Path returns the lock file location.
func (l *FileLock) Path() string { return l.lock.Path() }

// Acquire takes the lock without blocking or returns domain.ErrCorpusLocked.
func (l *FileLock) Acquire(_ context.Context) (func() error, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, &domain.StorageError{Op: "lock " + l.lock.Path(), Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCorpusLocked, l.lock.Path())
	}
	release := func() error {
		if err := l.lock.Unlock(); err != nil {
			return &domain.StorageError{Op: "unlock " + l.lock.Path(), Err: err}
		}
		return nil
	}
	return release, nil
}
