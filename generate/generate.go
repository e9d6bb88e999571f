// Package generate writes random sorted runs for exercising a merge. The merge
// engine does not depend on it.
package generate

import (
	"errors"
	"fmt"
	"iter"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/davidvella/kmerge/sink"
	"github.com/google/btree"
)

var ErrInvalidOptions = errors.New("generate: invalid options")

// Options controls the shape of the generated runs.
type Options struct {
	// Count is the number of files.
	Count int
	// MinLen and MaxLen bound the number of values per file, inclusive.
	MinLen, MaxLen int
	// MinValue and MaxValue bound each value, inclusive.
	MinValue, MaxValue int64
	// Seed makes the output reproducible.
	Seed int64
}

// DefaultOptions returns ten short runs of small values.
func DefaultOptions() Options {
	return Options{
		Count:    10,
		MinLen:   5,
		MaxLen:   10,
		MinValue: 1,
		MaxValue: 20,
		Seed:     1,
	}
}

func (o Options) validate() error {
	switch {
	case o.Count < 0:
		return fmt.Errorf("%w: count %d", ErrInvalidOptions, o.Count)
	case o.MinLen < 1 || o.MaxLen < o.MinLen:
		return fmt.Errorf("%w: length range [%d, %d]", ErrInvalidOptions, o.MinLen, o.MaxLen)
	case o.MaxValue < o.MinValue:
		return fmt.Errorf("%w: value range [%d, %d]", ErrInvalidOptions, o.MinValue, o.MaxValue)
	}
	return nil
}

// FileName returns the name of the i-th generated file.
func FileName(i int) string {
	return fmt.Sprintf("file_%d.txt", i)
}

// Files writes opts.Count sorted runs into dir and returns their paths.
func Files(dir string, opts Options) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("generate: failed to create %s: %w", dir, err)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	paths := make([]string, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		n := opts.MinLen + rng.Intn(opts.MaxLen-opts.MinLen+1)
		path := filepath.Join(dir, FileName(i))
		if err := writeRun(path, Values(rng, n, opts.MinValue, opts.MaxValue)); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

type item struct {
	value int64
	seq   int
}

// Values draws n random values in [lo, hi] and yields them in ascending order.
// Duplicates are kept.
func Values(rng *rand.Rand, n int, lo, hi int64) iter.Seq[int64] {
	tree := btree.NewG[item](16, func(a, b item) bool {
		if a.value != b.value {
			return a.value < b.value
		}
		return a.seq < b.seq
	})
	span := hi - lo + 1
	for i := 0; i < n; i++ {
		var v int64
		if span > 0 {
			v = lo + rng.Int63n(span)
		} else {
			// span overflowed, so the range covers at least half of int64.
			v = int64(rng.Uint64())
			for v < lo || v > hi {
				v = int64(rng.Uint64())
			}
		}
		tree.ReplaceOrInsert(item{value: v, seq: i})
	}

	return func(yield func(int64) bool) {
		tree.Ascend(func(it item) bool {
			return yield(it.value)
		})
	}
}

func writeRun(path string, values iter.Seq[int64]) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("generate: failed to create %s: %w", path, err)
	}

	w := sink.NewWriter(file)
	for v := range values {
		if err := w.Write(v); err != nil {
			file.Close()
			return fmt.Errorf("generate: failed to write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("generate: failed to write %s: %w", path, err)
	}
	return file.Close()
}
