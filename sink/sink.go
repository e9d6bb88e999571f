// Package sink provides append-only destinations for merged values.
package sink

import (
	"bufio"
	"io"

	"github.com/davidvella/kmerge/lineio"
)

const defaultBufSize = 64 * 1024

// Writer appends values as decimal lines to an io.Writer. Output is buffered;
// call Flush once the last value has been written.
type Writer struct {
	buf     *bufio.Writer
	scratch []byte
	count   int64
}

func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, defaultBufSize)
}

func NewWriterSize(w io.Writer, size int) *Writer {
	if size <= 0 {
		size = defaultBufSize
	}
	return &Writer{
		buf:     bufio.NewWriterSize(w, size),
		scratch: make([]byte, 0, 24),
	}
}

func (w *Writer) Write(v int64) error {
	w.scratch = lineio.Append(w.scratch[:0], v)
	if _, err := w.buf.Write(w.scratch); err != nil {
		return err
	}
	w.count++
	return nil
}

// Flush writes any buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Count returns the number of values accepted so far.
func (w *Writer) Count() int64 {
	return w.count
}

// Slice collects values in memory.
type Slice struct {
	Values []int64
}

func (s *Slice) Write(v int64) error {
	s.Values = append(s.Values, v)
	return nil
}
