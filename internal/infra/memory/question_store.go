package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/domain"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// Key identifies a row the way the table's unique constraint does.
type Key struct {
	ExamType       string
	Year           int
	QuestionNumber int
}

// StoredRow is a row with its database-maintained timestamps.
type StoredRow struct {
	domain.QuestionRow
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuestionStore is an in-memory implementation of app.QuestionStore.
// Upserts are staged per transaction and applied on commit.
type QuestionStore struct {
	mu      sync.RWMutex
	rows    map[Key]StoredRow
	columns []string
	failOn  map[int]error
	now     func() time.Time
}

func NewQuestionStore() *QuestionStore {
	return &QuestionStore{
		rows:    make(map[Key]StoredRow),
		columns: append([]string(nil), domain.TableColumns...),
		failOn:  make(map[int]error),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for created_at/updated_at.
func (s *QuestionStore) SetClock(now func() time.Time) { s.now = now }

// SetColumns overrides the reported table columns.
func (s *QuestionStore) SetColumns(cols []string) { s.columns = cols }

// FailOn makes every upsert of question n fail with err.
func (s *QuestionStore) FailOn(n int, err error) { s.failOn[n] = err }

func (s *QuestionStore) Columns(_ context.Context) ([]string, error) {
	return append([]string(nil), s.columns...), nil
}

func (s *QuestionStore) Begin(_ context.Context) (app.UpsertTx, error) {
	return &tx{store: s, staged: make(map[Key]domain.QuestionRow)}, nil
}

// Get returns the stored row for a key.
func (s *QuestionStore) Get(k Key) (StoredRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[k]
	return row, ok
}

// Keys lists stored keys ordered by exam_type, year, question_number.
func (s *QuestionStore) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ExamType != b.ExamType {
			return a.ExamType < b.ExamType
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.QuestionNumber < b.QuestionNumber
	})
	return keys
}

func (s *QuestionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

type tx struct {
	store  *QuestionStore
	staged map[Key]domain.QuestionRow
	order  []Key
	done   bool
}

func (t *tx) Upsert(_ context.Context, row domain.QuestionRow) error {
	if t.done {
		return ErrTxDone
	}
	if err, ok := t.store.failOn[row.QuestionNumber]; ok {
		return fmt.Errorf("question %d: %w", row.QuestionNumber, err)
	}
	k := Key{ExamType: row.ExamType, Year: row.Year, QuestionNumber: row.QuestionNumber}
	if _, ok := t.staged[k]; !ok {
		t.order = append(t.order, k)
	}
	t.staged[k] = row
	return nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, k := range t.order {
		stored := StoredRow{QuestionRow: t.staged[k], CreatedAt: now, UpdatedAt: now}
		if prev, ok := s.rows[k]; ok {
			stored.CreatedAt = prev.CreatedAt
		}
		s.rows[k] = stored
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	return nil
}
