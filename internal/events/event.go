package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Known event tags. Events without a tag are generic status events.
const (
	TagInit          = "INIT"
	TagHeartbeat     = "HEARTBEAT"
	TagFileProcessed = "FILE_PROCESSED"
)

// ErrNotObject is returned by Decode when the payload is valid JSON but not an object.
var ErrNotObject = errors.New("events: payload is not a JSON object")

// StreamEvent is one reported occurrence from a monitored service. Fields other
// than Timestamp are optional and carried opaquely.
type StreamEvent struct {
	Timestamp  int64  `json:"timestamp"`
	App        string `json:"app,omitempty"`
	Stage      string `json:"stage,omitempty"`
	DocID      string `json:"docId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	Event      string `json:"event,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	URL        string `json:"url,omitempty"`

	LatencyMs       *int64   `json:"latencyMs,omitempty"`
	Uptime          string   `json:"uptime,omitempty"`
	Hostname        string   `json:"hostname,omitempty"`
	PublicHostname  string   `json:"publicHostname,omitempty"`
	CurrentFile     string   `json:"currentFile,omitempty"`
	FilesProcessed  *int64   `json:"filesProcessed,omitempty"`
	FilesTotal      *int64   `json:"filesTotal,omitempty"`
	TotalChunks     *int64   `json:"totalChunks,omitempty"`
	ProcessedChunks *int64   `json:"processedChunks,omitempty"`
	ProcessingRate  *float64 `json:"processingRate,omitempty"`
	ErrorCount      *int64   `json:"errorCount,omitempty"`
	MemoryUsedMB    *float64 `json:"memoryUsedMB,omitempty"`
	PendingMessages *int64   `json:"pendingMessages,omitempty"`
	Filename        string   `json:"filename,omitempty"`
}

// Time returns the event timestamp as a time.Time.
func (e StreamEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Decode parses a pushed payload. Any JSON object is accepted; a field whose
// JSON type does not match is left empty rather than rejecting the event.
func Decode(data []byte) (StreamEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return StreamEvent{}, ErrNotObject
	}
	var evt StreamEvent
	if err := json.Unmarshal(trimmed, &evt); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
		}
		if evt.Timestamp == 0 {
			evt.Timestamp = looseTimestamp(trimmed)
		}
	}
	return evt, nil
}

// looseTimestamp reads a timestamp sent as a fractional, exponent-form, or
// quoted number. Anything else yields zero.
func looseTimestamp(data []byte) int64 {
	var probe struct {
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0
	}
	if ms, err := probe.Timestamp.Int64(); err == nil {
		return ms
	}
	f, err := probe.Timestamp.Float64()
	if err != nil {
		return 0
	}
	return int64(f)
}

// Int64 returns a pointer to v, for building events with telemetry fields.
func Int64(v int64) *int64 {
	return &v
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
