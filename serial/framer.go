package serial

import (
	"bytes"
	"errors"
	"iter"
	"strings"
)

// DefaultMaxPending bounds the bytes a Framer keeps while waiting for a
// line terminator.
const DefaultMaxPending = 64 * 1024

// ErrFramingOverflow is returned by Feed when the unterminated tail of the
// stream grows past the framer's bound.
var ErrFramingOverflow = errors.New("serial: line exceeds framing buffer")

// Framer splits a byte stream into newline-terminated lines.
//
// The buffer persists across Feed calls, so a line split over several reads
// is emitted once its '\n' arrives. Lines are trimmed of surrounding
// whitespace and empty lines are dropped. A Framer is not safe for
// concurrent use.
type Framer struct {
	buf        []byte
	maxPending int
}

// NewFramer returns a Framer that fails once more than maxPending bytes are
// buffered without a terminator. maxPending <= 0 disables the bound.
func NewFramer(maxPending int) *Framer {
	return &Framer{maxPending: maxPending}
}

// Feed appends chunk and returns the lines it completes.
//
// The sequence is lazy: each line is cut from the buffer as it is yielded,
// and lines not consumed (the caller broke out early) stay buffered for the
// next call. On ErrFramingOverflow the buffer is discarded and the returned
// sequence is empty.
func (f *Framer) Feed(chunk []byte) (iter.Seq[string], error) {
	f.buf = append(f.buf, chunk...)
	if f.maxPending > 0 {
		tail := len(f.buf) - (bytes.LastIndexByte(f.buf, '\n') + 1)
		if tail > f.maxPending {
			f.buf = nil
			return func(func(string) bool) {}, ErrFramingOverflow
		}
	}
	return f.lines, nil
}

func (f *Framer) lines(yield func(string) bool) {
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			return
		}
		line := strings.TrimSpace(string(f.buf[:i]))
		f.buf = f.buf[i+1:]
		if line == "" {
			continue
		}
		if !yield(line) {
			return
		}
	}
}

// Pending returns the buffered bytes that do not yet form a line.
func (f *Framer) Pending() []byte {
	return append([]byte(nil), f.buf...)
}

// Reset drops any buffered partial line.
func (f *Framer) Reset() { f.buf = nil }
