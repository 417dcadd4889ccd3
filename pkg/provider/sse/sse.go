// Package sse splits a server-sent event byte stream into frames.
//
// A frame is a block of field lines terminated by a blank line. The parser
// is vendor independent: it only understands the event and data fields.
// Bytes after the last blank line are buffered and never emitted; when the
// source closes they are discarded (and made available to callers that want
// to run their own recovery scan over them).
package sse

import (
	"bytes"
	"errors"
	"io"
)

// DefaultMaxFrameSize bounds the bytes buffered for one unterminated frame.
const DefaultMaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when an unterminated frame exceeds the
// configured maximum size.
var ErrFrameTooLarge = errors.New("sse: frame exceeds maximum size")

// Frame is one parsed event.
type Frame struct {
	// Event is the value of the event field, empty when absent.
	Event string

	// Data is the concatenation of all data lines, joined by "\n".
	Data string
}

// Parser is an incremental push parser. It is single-use: after Close it
// accepts no more input.
type Parser struct {
	buf    []byte
	max    int
	closed bool
}

// NewParser creates a parser with the default maximum frame size.
func NewParser() *Parser {
	return &Parser{max: DefaultMaxFrameSize}
}

// Feed appends p to the internal buffer and returns every frame completed by
// it, in stream order. Feeding a closed parser returns nil.
func (p *Parser) Feed(data []byte) ([]Frame, error) {
	if p.closed {
		return nil, nil
	}
	p.buf = append(p.buf, data...)

	var frames []Frame
	for {
		end, skip := findBoundary(p.buf)
		if end < 0 {
			break
		}
		if f, ok := parseBlock(p.buf[:end]); ok {
			frames = append(frames, f)
		}
		p.buf = p.buf[end+skip:]
	}

	// Compact so a long stream does not pin an ever-growing backing array.
	if len(p.buf) == 0 {
		p.buf = nil
	} else if cap(p.buf) > 2*len(p.buf)+4096 {
		p.buf = append([]byte(nil), p.buf...)
	}

	if p.max > 0 && len(p.buf) > p.max {
		return frames, ErrFrameTooLarge
	}
	return frames, nil
}

// Pending reports the number of buffered bytes not yet part of a frame.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// Close finishes the parser and returns the unterminated trailing bytes,
// which are never emitted as a frame.
func (p *Parser) Close() []byte {
	rest := p.buf
	p.buf = nil
	p.closed = true
	return rest
}

// findBoundary returns the end of the first block in b and the length of the
// blank-line terminator after it, or -1 when no complete block is buffered.
func findBoundary(b []byte) (end, skip int) {
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\n':
			if i+1 < len(b) && b[i+1] == '\n' {
				return i, 2
			}
			if i+2 < len(b) && b[i+1] == '\r' && b[i+2] == '\n' {
				return i, 3
			}
		case '\r':
			if i+3 < len(b) && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
				return i, 4
			}
			if i+1 < len(b) && b[i+1] == '\r' {
				return i, 2
			}
		}
	}
	return -1, 0
}

func parseBlock(block []byte) (Frame, bool) {
	var (
		f       Frame
		data    [][]byte
		hasData bool
	)
	for _, line := range splitLines(block) {
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}
		switch string(field) {
		case "event":
			f.Event = string(value)
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if !hasData && f.Event == "" {
		return Frame{}, false
	}
	f.Data = string(bytes.Join(data, []byte("\n")))
	return f, true
}

func splitLines(b []byte) [][]byte {
	var lines [][]byte
	for len(b) > 0 {
		i := bytes.IndexAny(b, "\r\n")
		if i < 0 {
			lines = append(lines, b)
			break
		}
		lines = append(lines, b[:i])
		if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
			i++
		}
		b = b[i+1:]
	}
	return lines
}

// Reader yields frames lazily from an io.Reader.
type Reader struct {
	r        io.Reader
	parser   *Parser
	queue    []Frame
	chunk    []byte
	err      error
	trailing []byte
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:      r,
		parser: NewParser(),
		chunk:  make([]byte, 32*1024),
	}
}

// Next returns the next complete frame. It returns io.EOF once the source is
// exhausted and every complete frame has been returned; any partial trailing
// block is discarded at that point. Other read errors are returned as is.
func (r *Reader) Next() (Frame, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return Frame{}, r.err
		}
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			frames, ferr := r.parser.Feed(r.chunk[:n])
			r.queue = append(r.queue, frames...)
			if ferr != nil {
				r.fail(ferr)
			}
		}
		if err != nil {
			r.fail(err)
		}
	}
	f := r.queue[0]
	r.queue = r.queue[1:]
	return f, nil
}

func (r *Reader) fail(err error) {
	if r.err != nil {
		return
	}
	r.err = err
	r.trailing = r.parser.Close()
}

// Trailing returns the bytes discarded when the source ended inside a frame.
// It is empty until Next has returned an error.
func (r *Reader) Trailing() []byte {
	return r.trailing
}
