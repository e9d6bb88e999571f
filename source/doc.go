// Package source implements a streaming cursor over one pre-sorted run of
// integers stored as line-delimited text.
//
// A Source is primed with its first value when it is opened, so an empty run
// is rejected up front with ErrEmptySource. From then on Peek exposes the
// current value and Advance moves to the next one. When the run is drained the
// source marks itself exhausted and closes its handle; the handle is released
// exactly once whether that happens through Advance or Close.
//
// Memory use is a single value plus the read buffer, regardless of run length.
//
// Basic usage:
//
//	f, err := os.Open("run_0.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	src, err := source.Open("run_0.txt", f)
//	if err != nil {
//	    log.Fatal(err) // f is already closed
//	}
//	defer src.Close()
//
//	for !src.Exhausted() {
//	    v, _ := src.Peek()
//	    fmt.Println(v)
//	    if err := src.Advance(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// Errors:
//   - ErrEmptySource: the run has no values at all
//   - *MalformedSourceError: a line is not a decimal int64
//   - *UnsortedSourceError: a value is smaller than its predecessor (only with
//     the order check enabled, which is the default)
//   - *IOError: the stream failed to read or close
package source
