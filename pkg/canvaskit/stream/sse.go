package stream

import (
	"bufio"
	"bytes"
	"io"
)

// maxFrameSize bounds a single event-stream line. Answers with long
// references can exceed bufio's default.
const maxFrameSize = 4 << 20

// frameReader splits an event stream into the payloads of its data fields.
// Multiple data lines in one event are joined with newlines; comments and
// other fields are skipped.
type frameReader struct {
	sc  *bufio.Scanner
	buf bytes.Buffer
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &frameReader{sc: sc}
}

// next returns the next event's data, or io.EOF when the stream ends. A
// trailing event without a blank line is still delivered.
func (f *frameReader) next() ([]byte, error) {
	f.buf.Reset()
	have := false
	for f.sc.Scan() {
		line := f.sc.Bytes()
		if len(line) == 0 {
			if have {
				return bytes.Clone(f.buf.Bytes()), nil
			}
			continue
		}
		value, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		if have {
			f.buf.WriteByte('\n')
		}
		f.buf.Write(bytes.TrimPrefix(value, []byte(" ")))
		have = true
	}
	if err := f.sc.Err(); err != nil {
		return nil, err
	}
	if have {
		return bytes.Clone(f.buf.Bytes()), nil
	}
	return nil, io.EOF
}
