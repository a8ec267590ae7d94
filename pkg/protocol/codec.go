package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize caps a single frame's encoded line length (1 MiB) so a
// malicious or misbehaving guest cannot force unbounded buffering.
const maxLineSize = 1 << 20

// Encoder writes Frames as newline-terminated JSON, one per line, and
// flushes immediately after each write so a blocked reader on the other
// end of a pipe observes the frame without delay. Concurrent calls to
// Encode are serialized internally — callers still must respect the
// single-writer-per-box discipline, but Encoder will not corrupt output
// if that discipline is violated.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder wraps w for frame-at-a-time writes.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode marshals f to JSON, appends a newline, writes it, and flushes.
func (e *Encoder) Encode(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("boxlite: marshal frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("boxlite: write frame: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("boxlite: write frame: %w", err)
	}
	return e.w.Flush()
}

// Decoder reads Frames line by line from the wrapped reader. Empty and
// malformed (invalid JSON) lines are dropped silently; Next returns them
// as ok=false with a nil error so the caller's read loop simply
// continues. A valid frame is returned whatever its type; ignoring an
// unrecognized type is left to the caller's dispatch.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder wraps r for line-at-a-time frame reads.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &Decoder{s: s}
}

// Next reads the next frame. It returns io.EOF when the underlying stream
// is exhausted. A line that is empty or fails to parse as JSON is
// silently skipped (ok=false, err=nil); callers should loop until ok is
// true or err is non-nil.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	if !d.s.Scan() {
		if err := d.s.Err(); err != nil {
			return Frame{}, false, fmt.Errorf("boxlite: read frame: %w", err)
		}
		return Frame{}, false, io.EOF
	}
	line := d.s.Bytes()
	if len(line) == 0 {
		return Frame{}, false, nil
	}
	if err := json.Unmarshal(line, &f); err != nil {
		return Frame{}, false, nil
	}
	return f, true, nil
}
