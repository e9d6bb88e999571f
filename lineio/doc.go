// Package lineio implements the text format used for sorted runs: one ASCII
// decimal int64 per line, each line terminated by a newline. A final line
// without a terminator is accepted on read.
//
// Lines are never trimmed. Blank lines, surrounding whitespace and values that
// overflow int64 are all reported as a *SyntaxError carrying the line number.
//
// Basic usage:
//
//	var buf bytes.Buffer
//	lineio.Write(&buf, 3)
//	lineio.Write(&buf, 7)
//
//	r := lineio.NewReader(&buf)
//	for {
//	    v, err := r.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(v)
//	}
package lineio
