package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCorpusLocked is returned when another run holds the corpus lock.
	ErrCorpusLocked = errors.New("corpus is locked by another run")
	// ErrInvalidQuestionNumber indicates a raw record without a parseable number.
	ErrInvalidQuestionNumber = errors.New("invalid question number")
	// ErrOptionsIncomplete indicates inline option markers were not all found.
	ErrOptionsIncomplete = errors.New("inline options incomplete")
	// ErrUnknownAnswerLetter indicates an answer letter outside A-D or outside the record's options.
	ErrUnknownAnswerLetter = errors.New("unknown answer letter")
	// ErrTransientRemote marks remote failures that are retried within the batch budget.
	ErrTransientRemote = errors.New("transient remote failure")
	// ErrPermanentRemote marks a batch whose retries are exhausted or not allowed.
	ErrPermanentRemote = errors.New("permanent remote failure")
)

// ValidationError is returned when a corpus violates the invariants a stage needs.
type ValidationError struct {
	Report   *ValidationReport
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// SchemaMismatchError is returned when the upsert columns differ from the table columns.
type SchemaMismatchError struct {
	Table   string
	Missing []string // in the table, not written by the uploader
	Extra   []string // written by the uploader, not in the table
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %s: missing=%v extra=%v", e.Table, e.Missing, e.Extra)
}

// StorageError wraps filesystem and database failures. QuestionNumber is set
// when a single row caused the failure.
type StorageError struct {
	Op             string
	QuestionNumber int
	Err            error
}

func (e *StorageError) Error() string {
	if e.QuestionNumber > 0 {
		return fmt.Sprintf("%s (question %d): %v", e.Op, e.QuestionNumber, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RemoteError describes a failed call to the analysis service.
type RemoteError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis service status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis service: %v", e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets errors.Is match the transient/permanent sentinels.
func (e *RemoteError) Is(target error) bool {
	if e.Transient {
		return target == ErrTransientRemote
	}
	return target == ErrPermanentRemote
}

// IsTransient reports whether err should be retried within the batch budget.
// Errors that are not RemoteErrors are treated as transient.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Transient
	}
	return !errors.Is(err, ErrPermanentRemote)
}
