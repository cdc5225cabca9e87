// Package journal records committed ceiling transitions in a SQLite database.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/AMDEPYC/thermal-governor/internal/thermal"
)

const DefaultBatchSize = 32

var ErrClosed = errors.New("journal is closed")

// Entry is a transition as stored in the journal.
type Entry struct {
	ID    int64  `json:"id"`
	RunID string `json:"runId"`
	thermal.Transition
}

// Journal buffers transitions and writes them in batches. It implements
// thermal.TransitionObserver.
type Journal struct {
	db        *sql.DB
	runID     string
	batchSize int
	log       logr.Logger

	mu      sync.Mutex
	pending []thermal.Transition
	closed  bool
}

type Option func(*Journal)

func WithBatchSize(size int) Option {
	return func(j *Journal) {
		if size > 0 {
			j.batchSize = size
		}
	}
}

// Open creates or opens the journal database at path. An empty runID gets a
// fresh xid so that entries of different daemon runs can be told apart.
func Open(path, runID string, log logr.Logger, opts ...Option) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if runID == "" {
		runID = xid.New().String()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:        db,
		runID:     runID,
		batchSize: DefaultBatchSize,
		log:       log.WithValues("runID", runID),
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := j.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}

	atexit.Register(func() {
		if err := j.Flush(); err != nil && !errors.Is(err, ErrClosed) {
			j.log.Error(err, "failed to flush journal at exit")
		}
	})
	j.log.Info("transition journal opened", "path", path)

	return j, nil
}

func (j *Journal) RunID() string {
	return j.runID
}

func (j *Journal) ObserveTransition(t thermal.Transition) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	j.pending = append(j.pending, t)
	if len(j.pending) < j.batchSize {
		return
	}
	if err := j.flushLocked(); err != nil {
		j.log.Error(err, "failed to flush journal batch", "pending", len(j.pending))
	}
}

// Flush writes all buffered transitions to the database.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	return j.flushLocked()
}

// Recent returns up to limit of the latest entries, newest first. Buffered
// transitions are flushed before reading.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}
	if err := j.flushLocked(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Entry{}, nil
	}

	rows, err := j.db.Query(`
		SELECT id, run_id, time, action, temperature, threshold, from_khz, to_khz, hold_ms
		FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry    Entry
			unixNano int64
			from, to sql.NullInt64
			holdMS   int64
			action   string
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &unixNano, &action, &entry.Temperature,
			&entry.Threshold, &from, &to, &holdMS); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		entry.Time = time.Unix(0, unixNano)
		entry.Action = thermal.Action(action)
		entry.From = fromCeilingValue(from)
		entry.To = fromCeilingValue(to)
		entry.HoldTime = time.Duration(holdMS) * time.Millisecond
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Close flushes pending transitions and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	return errors.Join(j.flushLocked(), j.db.Close())
}

func (j *Journal) flushLocked() error {
	if len(j.pending) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("starting journal transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO transitions (run_id, time, action, temperature, threshold, from_khz, to_khz, hold_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing journal insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range j.pending {
		_, err := stmt.Exec(
			j.runID,
			t.Time.UnixNano(),
			string(t.Action),
			t.Temperature,
			t.Threshold,
			toCeilingValue(t.From),
			toCeilingValue(t.To),
			t.HoldTime.Milliseconds(),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting journal entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing journal batch: %w", err)
	}
	j.log.V(5).Info("journal batch flushed", "entries", len(j.pending))
	j.pending = nil

	return nil
}

func (j *Journal) createTable() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS transitions
		(
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT    NOT NULL,
			time        INTEGER NOT NULL,
			action      TEXT    NOT NULL,
			temperature INTEGER NOT NULL DEFAULT 0,
			threshold   INTEGER NOT NULL DEFAULT 0,
			from_khz    INTEGER,
			to_khz      INTEGER,
			hold_ms     INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("creating journal table: %w", err)
	}
	return nil
}

// An unrestricted ceiling is stored as NULL.
func toCeilingValue(freq uint) any {
	if freq == thermal.MaxCeiling {
		return nil
	}
	return int64(freq)
}

func fromCeilingValue(v sql.NullInt64) uint {
	if !v.Valid {
		return thermal.MaxCeiling
	}
	return uint(v.Int64)
}
