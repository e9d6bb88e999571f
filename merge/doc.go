// Package merge implements the k-way merge of pre-sorted sources into a single
// sorted sink.
//
// At each step the engine picks the source whose current value is the
// smallest, writes that value to the sink and advances only that source.
// A source is dropped from the active set the moment it is exhausted, and the
// run ends when the active set is empty. When several sources hold the same
// value, the one that appears first in the input slice wins, so the output is
// reproducible byte for byte.
//
// Two selectors are available:
//   - Linear (default): scans the k active sources for every value. Cheapest
//     when k is small relative to the number of values, which is the expected
//     shape of an external merge where I/O dominates.
//   - Heap: keeps the active sources in a binary min-heap keyed by
//     (value, insertion order). O(log k) per value with identical output.
//
// Basic usage:
//
//	a, _ := source.Open("a", io.NopCloser(strings.NewReader("1\n4\n9\n")))
//	b, _ := source.Open("b", io.NopCloser(strings.NewReader("2\n2\n3\n")))
//
//	out := &sink.Slice{}
//	if _, err := merge.Merge(ctx, []*source.Source{a, b}, out); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Values) // [1 2 2 3 4 9]
//
// Merge owns the sources it is given. Whether it returns normally, on an error
// or on cancellation, every source is closed before it returns. Errors are
// never retried; values already written to the sink stay there and the caller
// decides whether to discard them.
package merge
