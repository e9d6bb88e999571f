package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pierrec/lz4/v4"
)

const (
	// CompressedExt marks files stored as lz4 frames.
	CompressedExt = ".lz4"
	pendingExt    = ".pending"
)

var ErrCompressedAppend = errors.New("local: cannot append to a compressed output")

// Storage reads sorted runs from a directory on the local filesystem.
type Storage struct {
	dir     string
	exclude map[string]struct{}
}

// Option configures a Storage.
type Option func(*Storage)

// WithExclude hides paths, and the pending files written next to them, from
// List. Use it for an output that lives inside the source directory.
func WithExclude(paths ...string) Option {
	return func(s *Storage) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				continue
			}
			s.exclude[abs] = struct{}{}
			s.exclude[abs+pendingExt] = struct{}{}
		}
	}
}

func NewLocalStorage(dir string, opts ...Option) *Storage {
	s := &Storage{dir: dir, exclude: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the regular, non-hidden files in the directory sorted by name.
// Pending outputs and excluded paths are skipped.
func (s *Storage) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, pendingExt) {
			continue
		}
		if s.excluded(name) {
			continue
		}
		files = append(files, name)
	}
	slices.Sort(files)
	return files, nil
}

func (s *Storage) excluded(name string) bool {
	if len(s.exclude) == 0 {
		return false
	}
	abs, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return false
	}
	_, ok := s.exclude[abs]
	return ok
}

// Open opens a run for reading. Relative names resolve against the storage
// directory; absolute names are used as they are.
func (s *Storage) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path := name
	if !filepath.IsAbs(name) && s.dir != "" {
		path = filepath.Join(s.dir, name)
	}
	return OpenFile(path)
}

// OpenFile opens a file for reading, decompressing it if it carries the
// lz4 extension.
func OpenFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	if filepath.Ext(path) != CompressedExt {
		return file, nil
	}
	return &compressedReader{Reader: lz4.NewReader(file), file: file}, nil
}

type compressedReader struct {
	*lz4.Reader
	file *os.File
}

func (r *compressedReader) Close() error {
	return r.file.Close()
}

// Output is a merge destination on the local filesystem.
//
// With truncate set the data is written to a pending file next to the target
// and renamed over it by Commit, so an aborted run leaves the target as it
// was. Without truncate the target is opened for append and an aborted run
// leaves whatever was already written at its tail.
type Output struct {
	path     string
	pending  string
	truncate bool
	file     *os.File
	zw       *lz4.Writer
	w        io.Writer
	written  int64
	done     bool
}

func CreateOutput(path string, truncate bool) (*Output, error) {
	compressed := filepath.Ext(path) == CompressedExt
	if compressed && !truncate {
		return nil, ErrCompressedAppend
	}

	o := &Output{path: path, truncate: truncate}

	var (
		file *os.File
		err  error
	)
	if truncate {
		o.pending = path + pendingExt
		file, err = os.OpenFile(o.pending, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	} else {
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	o.file = file
	o.w = file
	if compressed {
		o.zw = lz4.NewWriter(file)
		o.w = o.zw
	}
	return o, nil
}

// Path returns the final location of the output.
func (o *Output) Path() string {
	return o.path
}

func (o *Output) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.written += int64(n)
	return n, err
}

// Commit makes the output durable and, in truncate mode, publishes it at its
// final path. On failure partial reports whether bytes from this run were
// left at the tail of the target.
func (o *Output) Commit() (partial bool, err error) {
	if o.done {
		return false, nil
	}
	o.done = true

	if err := o.finish(); err != nil {
		return !o.truncate && o.written > 0, err
	}
	return false, nil
}

func (o *Output) finish() error {
	if o.zw != nil {
		if err := o.zw.Close(); err != nil {
			o.file.Close()
			o.discard()
			return fmt.Errorf("failed to finish compressed output %s: %w", o.path, err)
		}
	}
	if err := o.file.Sync(); err != nil {
		o.file.Close()
		o.discard()
		return fmt.Errorf("failed to sync file %s: %w", o.path, err)
	}
	if err := o.file.Close(); err != nil {
		o.discard()
		return fmt.Errorf("failed to close file %s: %w", o.path, err)
	}
	if o.truncate {
		if err := os.Rename(o.pending, o.path); err != nil {
			o.discard()
			return fmt.Errorf("failed to publish file %s: %w", o.path, err)
		}
	}
	return nil
}

// Abort releases the output without publishing it. partial reports whether
// bytes from this run were left at the tail of the target.
func (o *Output) Abort() (partial bool, err error) {
	if o.done {
		return false, nil
	}
	o.done = true

	err = o.file.Close()
	if o.truncate {
		return false, errors.Join(err, o.discard())
	}
	return o.written > 0, err
}

func (o *Output) discard() error {
	if !o.truncate {
		return nil
	}
	if err := os.Remove(o.pending); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
