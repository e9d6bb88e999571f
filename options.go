package kmerge

import (
	"github.com/davidvella/kmerge/lineio"
	"github.com/davidvella/kmerge/merge"
	"github.com/davidvella/kmerge/monitoring"
	"github.com/rs/zerolog"
)

// options defines all configuration options for a run.
type options struct {
	sources    []string            // Explicit sources, in tie-break order
	outputName string              // Output identity recorded in the ledger
	checkOrder bool                // Fail on sources whose values decrease
	bufferSize int                 // Read and write buffer size
	selector   merge.Selector      // Minimum selection strategy
	logger     zerolog.Logger      // Run and source events
	recorder   monitoring.Recorder // Per-run metrics
	ledger     Ledger              // Run ledger, nil disables it
}

// Option is a function that configures a run.
type Option func(*options)

// WithSources merges the named sources in the given order instead of listing
// the storage.
func WithSources(names ...string) Option {
	return func(o *options) {
		o.sources = names
	}
}

// WithOutputName sets the output identity recorded in the ledger.
func WithOutputName(name string) Option {
	return func(o *options) {
		o.outputName = name
	}
}

// WithOrderCheck enables or disables the per-source order check.
func WithOrderCheck(enabled bool) Option {
	return func(o *options) {
		o.checkOrder = enabled
	}
}

// WithBufferSize sets the read buffer of every source and the write buffer of
// the output.
func WithBufferSize(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// WithSelector sets the minimum selection strategy.
func WithSelector(s merge.Selector) Option {
	return func(o *options) {
		o.selector = s
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r monitoring.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithLedger records every run in l.
func WithLedger(l Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		checkOrder: true,
		bufferSize: lineio.DefaultBufferSize,
		selector:   merge.Linear,
		logger:     zerolog.Nop(),
		recorder:   monitoring.Nop,
	}
}
