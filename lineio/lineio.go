package lineio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
)

const (
	// DefaultBufferSize is the read buffer used when none is given.
	DefaultBufferSize = 64 * 1024
	// maxLineLength bounds a single line when the buffer is smaller than it.
	maxLineLength = 4096
)

var (
	ErrEmptyLine = errors.New("lineio: empty line")
)

// SyntaxError reports a line that does not hold a decimal int64.
type SyntaxError struct {
	Line int
	Text string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("lineio: line %d: invalid value %q: %v", e.Line, e.Text, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Parse decodes a single line without its terminator.
func Parse(line []byte) (int64, error) {
	if len(line) == 0 {
		return 0, ErrEmptyLine
	}
	return strconv.ParseInt(string(line), 10, 64)
}

// Append appends the line encoding of v, newline included, to dst.
func Append(dst []byte, v int64) []byte {
	dst = strconv.AppendInt(dst, v, 10)
	return append(dst, '\n')
}

// Write writes a single value as one line.
func Write(w io.Writer, v int64) (int, error) {
	var buf [24]byte
	return w.Write(Append(buf[:0], v))
}

// Reader streams values from line-delimited text, one line at a time.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultBufferSize)
}

func NewReaderSize(r io.Reader, size int) *Reader {
	if size <= 0 {
		size = DefaultBufferSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, size), maxLineLength)
	return &Reader{sc: sc}
}

// Next returns the next value. It returns io.EOF once the input is drained,
// a *SyntaxError for a line that cannot be parsed, and the underlying read
// error otherwise.
func (r *Reader) Next() (int64, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return 0, fmt.Errorf("lineio: read after line %d: %w", r.line, err)
		}
		return 0, io.EOF
	}
	r.line++

	v, err := Parse(r.sc.Bytes())
	if err != nil {
		return 0, &SyntaxError{
			Line: r.line,
			Text: r.sc.Text(),
			Err:  err,
		}
	}
	return v, nil
}

// Line returns the number of the last line read, starting at 1.
func (r *Reader) Line() int {
	return r.line
}

// Seq creates an iterator over values. Iteration stops silently at the first
// malformed line or read error, so it cannot be used to validate input; use
// Reader.Next for that.
func Seq(r io.Reader) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		lr := NewReader(r)
		for {
			v, err := lr.Next()
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// ReadValues reads all values into a slice. Like Seq it stops at the first
// malformed line without reporting it.
func ReadValues(r io.Reader) []int64 {
	values := make([]int64, 0, 1)
	for v := range Seq(r) {
		values = append(values, v)
	}
	return values
}
