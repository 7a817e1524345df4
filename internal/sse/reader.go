// Package sse reads server-sent event streams.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// DefaultEvent is the name of frames that carry no event field.
const DefaultEvent = "message"

// Frame is one dispatched server-sent event.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// Name returns the event name, defaulting to "message".
func (f Frame) Name() string {
	if f.Event == "" {
		return DefaultEvent
	}
	return f.Event
}

// Reader parses frames from a text/event-stream body.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next frame. Comment-only blocks are skipped. Named frames
// with no data are still returned so heartbeats are visible to callers.
// io.EOF is returned when the stream ends.
func (r *Reader) Next() (Frame, error) {
	var (
		eventType string
		eventID   string
		dataLines []string
		hasData   bool
	)

	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return Frame{}, io.EOF
			}
			if err != io.EOF {
				return Frame{}, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData || eventType != "" {
				return Frame{
					Event: eventType,
					ID:    eventID,
					Data:  []byte(strings.Join(dataLines, "\n")),
				}, nil
			}
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}
		switch field {
		case "event":
			eventType = value
		case "id":
			eventID = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		}

		if err == io.EOF {
			return Frame{}, io.EOF
		}
	}
}
