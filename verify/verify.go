// Package verify re-reads a merged output and checks that it is sorted. It is
// a test and operations aid; the merge engine never calls it.
package verify

import (
	"errors"
	"fmt"
	"io"

	"github.com/davidvella/kmerge/lineio"
)

// OrderError reports the first value smaller than the one before it.
type OrderError struct {
	Line     int
	Previous int64
	Value    int64
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("verify: line %d: value %d follows %d", e.Line, e.Value, e.Previous)
}

// Report summarises a sorted output.
type Report struct {
	Values int64
	Min    int64
	Max    int64
}

// Sorted reads r to the end and checks that its values never decrease.
func Sorted(r io.Reader) (Report, error) {
	var (
		report Report
		lr     = lineio.NewReader(r)
	)
	for {
		v, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return report, nil
		}
		if err != nil {
			return report, fmt.Errorf("verify: %w", err)
		}

		if report.Values == 0 {
			report.Min = v
		} else if v < report.Max {
			return report, &OrderError{Line: lr.Line(), Previous: report.Max, Value: v}
		}
		report.Max = v
		report.Values++
	}
}
