package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidvella/kmerge/monitoring"
	"github.com/davidvella/kmerge/source"
	"github.com/rs/zerolog"
)

var ErrNilSource = errors.New("merge: source cannot be nil")

// Sink receives merged values in order.
type Sink interface {
	Write(v int64) error
}

// WriteError wraps a failure to append a value to the sink.
type WriteError struct {
	Value int64
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("merge: write value %d: %v", e.Value, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Stats describes a finished or aborted merge run.
type Stats struct {
	// Values is the number of values written to the sink.
	Values int64
	// Sources is the number of sources that took part.
	Sources int
	// Retired is the number of sources drained during the run.
	Retired int
}

type options struct {
	selector Selector
	logger   zerolog.Logger
	recorder monitoring.Recorder
}

// Option configures a merge run.
type Option func(*options)

// WithSelector sets how the smallest value is found. Defaults to Linear.
func WithSelector(s Selector) Option {
	return func(o *options) {
		o.selector = s
	}
}

// WithLogger sets the logger used for per-source and per-run events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRecorder sets the recorder notified when the run ends.
func WithRecorder(r monitoring.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

func defaultOptions() options {
	return options{
		selector: Linear,
		logger:   zerolog.Nop(),
		recorder: monitoring.Nop,
	}
}

// Merge writes the values of every source to sink in non-decreasing order.
// Among sources holding equal values the one earlier in sources is consumed
// first. The context is checked before each value is selected.
//
// Merge owns the sources: on every return path all of them are closed.
// Any error aborts the run; values already written stay in the sink.
func Merge(ctx context.Context, sources []*source.Source, sink Sink, opts ...Option) (stats Stats, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	stats.Sources = len(sources)

	defer func() {
		if cerr := closeAll(sources); cerr != nil {
			err = errors.Join(err, cerr)
		}
		o.recorder.RecordRun(monitoring.RunStatus(err), stats.Values, stats.Retired, time.Since(start))
		if err != nil {
			o.logger.Debug().Err(err).Int64("values", stats.Values).Msg("merge aborted")
			return
		}
		o.logger.Debug().
			Int("sources", stats.Sources).
			Int64("values", stats.Values).
			Dur("elapsed", time.Since(start)).
			Msg("merge complete")
	}()

	active := make([]*source.Source, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			return stats, ErrNilSource
		}
		if !src.Exhausted() {
			active = append(active, src)
		}
	}

	sel := o.selector.build(active)
	for sel.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("merge: %w", err)
		}

		src := sel.Min()
		v, _ := src.Peek()
		if err := sink.Write(v); err != nil {
			return stats, &WriteError{Value: v, Err: err}
		}
		stats.Values++

		if err := src.Advance(); err != nil {
			return stats, err
		}
		if src.Exhausted() {
			stats.Retired++
			o.logger.Debug().Str("source", src.Name()).Int("lines", src.Line()).Msg("source retired")
		}
		sel.Update()
	}

	return stats, nil
}

func closeAll(sources []*source.Source) error {
	var errs []error
	for _, src := range sources {
		if src == nil {
			continue
		}
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
