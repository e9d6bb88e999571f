// Package manifest keeps a durable ledger of merge runs in a pebble database.
// Each run is written as running before the merge starts and rewritten with
// its final status afterwards, so a reader can tell a complete output from one
// left behind by a failed or interrupted run.
package manifest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
)

// Status is the outcome of a run as seen by a reader of its output.
type Status string

const (
	// StatusRunning marks a run that has started and not yet finished. A run
	// left in this state was interrupted and its output must not be trusted.
	StatusRunning Status = "running"
	// StatusComplete marks a run whose output is complete and sorted.
	StatusComplete Status = "complete"
	// StatusInvalid marks a run that failed after output may have been written.
	StatusInvalid Status = "invalid"
	// StatusFailed marks a run that failed without leaving output behind.
	StatusFailed Status = "failed"
)

var (
	ErrNotFound     = errors.New("manifest: run not found")
	ErrInvalidRunID = errors.New("manifest: run id cannot be empty")
)

const runPrefix = "run/"

// Run records one merge run.
type Run struct {
	ID       string
	Output   string
	Sources  []string
	Values   int64
	Status   Status
	Error    string
	Started  time.Time
	Finished time.Time
}

// Options configures the ledger.
type Options struct {
	// Path is the directory holding the pebble database.
	Path string
	// CacheSize is the block cache size in bytes.
	CacheSize int64
}

// Ledger persists runs in a pebble database, keyed by run id.
type Ledger struct {
	db *pebble.DB
}

func Open(opts Options) (*Ledger, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = 8 << 20
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: failed to create directory: %w", err)
	}

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(opts.Path, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// NewRunID returns an id that sorts in start order.
func NewRunID(started time.Time) string {
	return fmt.Sprintf("%020d", started.UnixNano())
}

// Put stores run, replacing any previous record with the same id.
func (l *Ledger) Put(run Run) error {
	if run.ID == "" {
		return ErrInvalidRunID
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(run); err != nil {
		return fmt.Errorf("manifest: failed to encode run %s: %w", run.ID, err)
	}
	if err := l.db.Set(key(run.ID), buf.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("manifest: failed to store run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads a single run.
func (l *Ledger) Get(id string) (Run, error) {
	value, closer, err := l.db.Get(key(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Run{}, fmt.Errorf("manifest: failed to load run %s: %w", id, err)
	}
	defer closer.Close()

	return decode(value)
}

// List returns every run in start order.
func (l *Ledger) List() ([]Run, error) {
	prefix := []byte(runPrefix)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: append(prefix[:len(prefix):len(prefix)], 0xFF),
	})
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to iterate runs: %w", err)
	}
	defer iter.Close()

	var runs []Run
	for iter.First(); iter.Valid(); iter.Next() {
		run, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, iter.Error()
}

// Delete removes a run record. Deleting a missing run is not an error.
func (l *Ledger) Delete(id string) error {
	if err := l.db.Delete(key(id), pebble.Sync); err != nil {
		return fmt.Errorf("manifest: failed to delete run %s: %w", id, err)
	}
	return nil
}

func key(id string) []byte {
	return []byte(runPrefix + id)
}

func decode(value []byte) (Run, error) {
	var run Run
	if err := gob.NewDecoder(bytes.NewReader(value)).Decode(&run); err != nil {
		return Run{}, fmt.Errorf("manifest: failed to decode run: %w", err)
	}
	return run, nil
}
