package source

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySource = errors.New("source: source holds no values")
	ErrNilReader   = errors.New("source: reader cannot be nil")
)

// MalformedSourceError reports a line that cannot be parsed as an integer.
type MalformedSourceError struct {
	Source string
	Line   int
	Text   string
	Err    error
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("source %s: line %d: malformed value %q", e.Source, e.Line, e.Text)
}

func (e *MalformedSourceError) Unwrap() error {
	return e.Err
}

// UnsortedSourceError reports a value smaller than the one read before it.
type UnsortedSourceError struct {
	Source   string
	Line     int
	Previous int64
	Value    int64
}

func (e *UnsortedSourceError) Error() string {
	return fmt.Sprintf("source %s: line %d: value %d is smaller than previous value %d",
		e.Source, e.Line, e.Value, e.Previous)
}

// IOError wraps a read or close failure on the underlying stream.
type IOError struct {
	Op     string
	Source string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
