package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/davidvella/kmerge/lineio"
)

// Source is a cursor over one pre-sorted run of integers. It keeps a single
// value in memory, the next one not yet consumed.
type Source struct {
	name       string
	rc         io.ReadCloser
	r          *lineio.Reader
	current    int64
	exhausted  bool
	checkOrder bool
}

type options struct {
	checkOrder bool
	bufferSize int
}

// Option configures a Source.
type Option func(*options)

// WithOrderCheck enables or disables the check that values never decrease.
// It is enabled by default; with it disabled an unsorted run yields its values
// as they are and the merged order is undefined.
func WithOrderCheck(enabled bool) Option {
	return func(o *options) {
		o.checkOrder = enabled
	}
}

// WithBufferSize sets the read buffer size.
func WithBufferSize(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

func defaultOptions() options {
	return options{
		checkOrder: true,
		bufferSize: lineio.DefaultBufferSize,
	}
}

// Open wraps rc and primes the cursor with its first value. On any error rc
// is closed and no Source is returned.
func Open(name string, rc io.ReadCloser, opts ...Option) (*Source, error) {
	if rc == nil {
		return nil, ErrNilReader
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Source{
		name:       name,
		rc:         rc,
		r:          lineio.NewReaderSize(rc, o.bufferSize),
		checkOrder: o.checkOrder,
	}

	v, err := s.r.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: %s", ErrEmptySource, name)
		} else {
			err = s.wrap(err)
		}
		if cerr := s.release(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}

	s.current = v
	return s, nil
}

// Name returns the identity the source was opened with.
func (s *Source) Name() string {
	return s.name
}

// Line returns the line number of the current value.
func (s *Source) Line() int {
	return s.r.Line()
}

// Peek returns the current value without consuming it. ok is false once the
// source is exhausted.
func (s *Source) Peek() (v int64, ok bool) {
	if s.exhausted {
		return 0, false
	}
	return s.current, true
}

// Exhausted reports whether every value has been consumed.
func (s *Source) Exhausted() bool {
	return s.exhausted
}

// Advance consumes the current value and reads the next one. When the stream
// is drained the source becomes exhausted and its handle is closed. Calling
// Advance on an exhausted source does nothing.
func (s *Source) Advance() error {
	if s.exhausted {
		return nil
	}

	v, err := s.r.Next()
	if errors.Is(err, io.EOF) {
		s.exhausted = true
		s.current = 0
		return s.release()
	}
	if err != nil {
		return s.wrap(err)
	}

	if s.checkOrder && v < s.current {
		return &UnsortedSourceError{
			Source:   s.name,
			Line:     s.r.Line(),
			Previous: s.current,
			Value:    v,
		}
	}

	s.current = v
	return nil
}

// Close releases the underlying handle if it is still open and marks the
// source exhausted. It is safe to call more than once.
func (s *Source) Close() error {
	s.exhausted = true
	s.current = 0
	return s.release()
}

func (s *Source) release() error {
	if s.rc == nil {
		return nil
	}
	rc := s.rc
	s.rc = nil
	if err := rc.Close(); err != nil {
		return &IOError{Op: "close", Source: s.name, Err: err}
	}
	return nil
}

func (s *Source) wrap(err error) error {
	var syntaxErr *lineio.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &MalformedSourceError{
			Source: s.name,
			Line:   syntaxErr.Line,
			Text:   syntaxErr.Text,
			Err:    syntaxErr.Err,
		}
	}
	return &IOError{Op: "read", Source: s.name, Err: err}
}
