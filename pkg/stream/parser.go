package stream

import (
	"bytes"
	"encoding/json"

	"github.com/papercomputeco/streamchat/pkg/llm"
)

// DataPrefix marks the lines that carry event payloads.
const DataPrefix = "data: "

var dataPrefix = []byte(DataPrefix)

// Parser splits a byte stream into event lines and decodes them. It keeps the
// incomplete trailing fragment of every Feed and prepends it to the next one,
// so the events produced do not depend on where the reads were split.
//
// Splitting happens on raw bytes before any decoding: a newline byte never
// occurs inside a multi-byte UTF-8 sequence, so a code point cut across two
// reads is reassembled in the carry-over buffer and decoded with its line.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	buf    []byte
	closed bool
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk to the carry-over buffer and returns the events decoded
// from every complete line. Once a terminal event has been returned the parser
// is closed and Feed returns nil, discarding anything still buffered.
func (p *Parser) Feed(chunk []byte) []Event {
	if p.closed {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var events []Event
	start := 0
	for !p.closed {
		i := bytes.IndexByte(p.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := p.buf[start : start+i]
		start += i + 1
		events = append(events, p.parseLine(line)...)
	}

	if p.closed {
		p.buf = nil
		return events
	}

	n := copy(p.buf, p.buf[start:])
	p.buf = p.buf[:n]
	return events
}

// Closed reports whether a terminal event has been produced.
func (p *Parser) Closed() bool {
	return p.closed
}

// Pending returns the number of buffered bytes that do not yet form a line.
func (p *Parser) Pending() int {
	return len(p.buf)
}

func (p *Parser) parseLine(line []byte) []Event {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil
	}

	var ev llm.StreamEvent
	if err := json.Unmarshal(line[len(dataPrefix):], &ev); err != nil {
		p.closed = true
		return []Event{Failed(&MalformedEventError{Line: string(line), Err: err})}
	}

	if ev.Error != "" {
		p.closed = true
		return []Event{Failed(&ServerSignaledError{Message: ev.Error})}
	}

	var events []Event
	if ev.Content != "" {
		events = append(events, Chunk(ev))
	}
	if ev.Done {
		p.closed = true
		events = append(events, Completed())
	}
	return events
}
