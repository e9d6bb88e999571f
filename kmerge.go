package kmerge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/davidvella/kmerge/manifest"
	"github.com/davidvella/kmerge/merge"
	"github.com/davidvella/kmerge/monitoring"
	"github.com/davidvella/kmerge/sink"
	"github.com/davidvella/kmerge/source"
)

// Storage defines where sorted runs are read from.
type Storage interface {
	// List returns every run, in the order used to break ties.
	List(ctx context.Context) ([]string, error)
	// Open opens a run for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Output defines the destination of a run.
type Output interface {
	io.Writer
	// Commit publishes everything written so far. On failure partial reports
	// whether bytes from this run remain in the destination.
	Commit() (partial bool, err error)
	// Abort releases the output after a failure. partial reports whether
	// bytes from this run remain in the destination.
	Abort() (partial bool, err error)
}

// Ledger records the outcome of each run.
type Ledger interface {
	Put(run manifest.Run) error
}

// Result describes a run.
type Result struct {
	RunID   string
	Sources []string
	Values  int64
	// Partial is set when the run failed after part of the merged output had
	// already reached an append-mode destination. That tail is not sorted
	// with respect to anything written after it and must be discarded.
	Partial bool
}

// Run merges every run in storage into out. The output is committed only if
// the whole merge succeeds; otherwise it is aborted and the error returned.
func Run(ctx context.Context, storage Storage, out Output, opts ...Option) (Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	started := time.Now()
	res := Result{RunID: manifest.NewRunID(started)}
	logger := o.logger.With().Str("run", res.RunID).Logger()

	names := o.sources
	if len(names) == 0 {
		var err error
		if names, err = storage.List(ctx); err != nil {
			err = fmt.Errorf("kmerge: failed to list sources: %w", err)
			o.recordFailure(err, started)
			return res, errors.Join(err, abort(out, &res))
		}
	}
	res.Sources = names

	run := manifest.Run{
		ID:      res.RunID,
		Output:  o.outputName,
		Sources: names,
		Status:  manifest.StatusRunning,
		Started: started,
	}
	if err := o.record(run); err != nil {
		o.recordFailure(err, started)
		return res, errors.Join(err, abort(out, &res))
	}

	err := mergeInto(ctx, storage, out, names, o, &res)
	if err == nil {
		var partial bool
		if partial, err = out.Commit(); err != nil {
			res.Partial = partial
			err = fmt.Errorf("kmerge: failed to commit output: %w", err)
		}
	} else {
		err = errors.Join(err, abort(out, &res))
	}

	run.Values = res.Values
	run.Finished = time.Now()
	switch {
	case err == nil:
		run.Status = manifest.StatusComplete
	case res.Partial:
		run.Status = manifest.StatusInvalid
		run.Error = err.Error()
	default:
		run.Status = manifest.StatusFailed
		run.Error = err.Error()
	}
	if rerr := o.record(run); rerr != nil {
		err = errors.Join(err, rerr)
	}

	if err != nil {
		logger.Error().Err(err).Bool("partial", res.Partial).Msg("run failed")
		return res, err
	}
	logger.Info().
		Int("sources", len(names)).
		Int64("values", res.Values).
		Dur("elapsed", time.Since(started)).
		Msg("run complete")
	return res, nil
}

func mergeInto(ctx context.Context, storage Storage, out Output, names []string, o options, res *Result) error {
	started := time.Now()
	sources, err := openSources(ctx, storage, names, o)
	if err != nil {
		o.recordFailure(err, started)
		return err
	}

	w := sink.NewWriterSize(out, o.bufferSize)
	stats, err := merge.Merge(ctx, sources, w,
		merge.WithSelector(o.selector),
		merge.WithLogger(o.logger),
		merge.WithRecorder(o.recorder),
	)
	res.Values = stats.Values
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("kmerge: failed to flush output: %w", err)
	}
	return nil
}

// openSources opens every source or none: on failure the ones already opened
// are closed before returning.
func openSources(ctx context.Context, storage Storage, names []string, o options) ([]*source.Source, error) {
	sources := make([]*source.Source, 0, len(names))
	closeOpened := func(err error) error {
		for _, src := range sources {
			if cerr := src.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		return err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, closeOpened(fmt.Errorf("kmerge: %w", err))
		}
		rc, err := storage.Open(ctx, name)
		if err != nil {
			return nil, closeOpened(&source.IOError{Op: "open", Source: name, Err: err})
		}
		src, err := source.Open(name, rc,
			source.WithOrderCheck(o.checkOrder),
			source.WithBufferSize(o.bufferSize),
		)
		if err != nil {
			return nil, closeOpened(err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func abort(out Output, res *Result) error {
	partial, err := out.Abort()
	res.Partial = partial
	if err != nil {
		return fmt.Errorf("kmerge: failed to abort output: %w", err)
	}
	return nil
}

// recordFailure reports a run that ended before the merge engine started.
func (o options) recordFailure(err error, started time.Time) {
	o.recorder.RecordRun(monitoring.RunStatus(err), 0, 0, time.Since(started))
}

func (o options) record(run manifest.Run) error {
	if o.ledger == nil {
		return nil
	}
	if err := o.ledger.Put(run); err != nil {
		return fmt.Errorf("kmerge: failed to record run: %w", err)
	}
	return nil
}
