// Package sse parses the framed text events sent on the job event stream.
package sse

import (
	"bytes"
	"errors"
	"strings"
)

const (
	frameSeparator = "\n\n"
	eventPrefix    = "event: "
	dataPrefix     = "data: "

	// DefaultEventType applies when a frame carries no event line.
	DefaultEventType = "message"

	// DefaultMaxFrameSize bounds a single unterminated frame.
	DefaultMaxFrameSize = 1 << 20
)

// ErrFrameTooLarge is reported by Err once a frame outgrows the size limit.
var ErrFrameTooLarge = errors.New("sse: frame exceeds size limit")

var separator = []byte(frameSeparator)

// Event is one decoded frame.
type Event struct {
	Type string
	Data string
}

// Parser accumulates stream chunks and yields complete frames.
// It is not safe for concurrent use.
type Parser struct {
	// MaxFrameSize caps the buffered partial frame; zero means DefaultMaxFrameSize.
	MaxFrameSize int

	buf     []byte
	scanned int // bytes of buf already searched for a separator
	err     error
}

// Feed appends chunk to the buffer and returns every frame completed by it.
// A trailing partial frame stays buffered for the next call. After the partial
// frame exceeds MaxFrameSize the buffer is dropped and Feed returns nothing;
// Err reports why.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 || p.err != nil {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []Event
	start := 0
	for {
		// Back up one byte so a separator split across chunks is still found.
		from := max(p.scanned-len(separator)+1, start)
		idx := bytes.Index(p.buf[from:], separator)
		if idx < 0 {
			p.scanned = len(p.buf)
			break
		}
		end := from + idx
		events = append(events, parseBlock(string(p.buf[start:end])))
		start = end + len(separator)
		p.scanned = start
	}
	if start > 0 {
		n := copy(p.buf, p.buf[start:])
		p.buf = p.buf[:n]
		p.scanned -= start
	}
	if len(p.buf) > p.maxFrameSize() {
		p.buf = nil
		p.scanned = 0
		p.err = ErrFrameTooLarge
	}
	return events
}

// Err returns ErrFrameTooLarge once the limit was hit, else nil.
func (p *Parser) Err() error {
	return p.err
}

// Buffered returns the number of bytes held for an incomplete frame.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Reset drops any buffered partial frame and clears Err.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.scanned = 0
	p.err = nil
}

func (p *Parser) maxFrameSize() int {
	if p.MaxFrameSize > 0 {
		return p.MaxFrameSize
	}
	return DefaultMaxFrameSize
}

func parseBlock(block string) Event {
	evt := Event{Type: DefaultEventType}
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, eventPrefix):
			evt.Type = line[len(eventPrefix):]
		case strings.HasPrefix(line, dataPrefix):
			evt.Data = line[len(dataPrefix):]
		}
	}
	return evt
}
