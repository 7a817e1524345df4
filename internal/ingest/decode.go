// Package ingest turns monitoring messages from the broker into stream events.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
)

// Message kinds reported by Decode.
const (
	KindEnvelope = "envelope"
	KindFlat     = "flat"
)

// DefaultAppPort is appended to hostnames that carry no port.
const DefaultAppPort = 8080

// ErrNotObject is returned for payloads that are not JSON objects.
var ErrNotObject = errors.New("ingest: message is not a JSON object")

// A status envelope is any object whose meta object names the service.
const envelopeSchema = `{
  "type": "object",
  "required": ["meta"],
  "properties": {
    "meta": {
      "type": "object",
      "required": ["service"]
    }
  }
}`

var envelope = mustSchema(envelopeSchema)

func mustSchema(doc string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("ingest: invalid schema: %v", err))
	}
	return schema
}

var schemePrefix = regexp.MustCompile(`^[a-zA-Z]+://`)

// DecodeOptions configure Decode.
type DecodeOptions struct {
	DefaultPort int
	Now         func() time.Time
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.DefaultPort <= 0 {
		o.DefaultPort = DefaultAppPort
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Result is a decoded monitoring message.
type Result struct {
	Kind     string
	Event    events.StreamEvent
	Instance *monitor.InstanceUpdate
}

// Decode converts a raw monitoring message. Status envelopes also yield an
// instance update; flat events do not.
func Decode(raw []byte, opts DecodeOptions) (Result, error) {
	opts = opts.withDefaults()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Result{}, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var node map[string]interface{}
	if err := dec.Decode(&node); err != nil {
		return Result{}, fmt.Errorf("parse monitoring message: %w", err)
	}

	check, err := envelope.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return Result{}, fmt.Errorf("inspect monitoring message: %w", err)
	}
	if check.Valid() {
		return decodeEnvelope(node, opts), nil
	}
	return decodeFlat(node, opts), nil
}

func decodeEnvelope(node map[string]interface{}, opts DecodeOptions) Result {
	meta, _ := node["meta"].(map[string]interface{})

	evt := events.StreamEvent{
		App:             text(meta, "service"),
		Stage:           firstText(meta, "processingStage", "processingState", "inputMode"),
		Event:           text(node, "event"),
		InstanceID:      text(node, "instanceId"),
		Status:          text(node, "status"),
		Message:         text(node, "lastError"),
		Timestamp:       timestamp(node, opts.Now),
		Uptime:          text(node, "uptime"),
		Hostname:        text(node, "hostname"),
		PublicHostname:  text(node, "publicHostname"),
		CurrentFile:     text(node, "currentFile"),
		FilesProcessed:  integer(node, "filesProcessed"),
		FilesTotal:      integer(node, "filesTotal"),
		TotalChunks:     integer(node, "totalChunks"),
		ProcessedChunks: integer(node, "processedChunks"),
		ProcessingRate:  float(node, "processingRate"),
		ErrorCount:      integer(node, "errorCount"),
		MemoryUsedMB:    float(node, "memoryUsedMB"),
		PendingMessages: integer(node, "pendingMessages"),
		Filename:        text(node, "filename"),
	}
	evt.URL = resolveURL(node, evt, opts.DefaultPort)

	update := &monitor.InstanceUpdate{
		Service:    evt.App,
		InstanceID: evt.InstanceID,
		URL:        evt.URL,
		Status:     evt.Status,
		Heartbeat:  strings.EqualFold(evt.Event, events.TagInit) || strings.EqualFold(evt.Event, events.TagHeartbeat),
		Version:    text(node, "version"),
		Meta:       meta,
	}
	if n, ok := node["bootEpoch"].(json.Number); ok {
		if boot, err := numberToInt(n); err == nil {
			update.BootEpoch = &boot
		}
	}
	return Result{Kind: KindEnvelope, Event: evt, Instance: update}
}

func decodeFlat(node map[string]interface{}, opts DecodeOptions) Result {
	evt := events.StreamEvent{
		App:       text(node, "app"),
		Stage:     text(node, "stage"),
		Event:     text(node, "event"),
		DocID:     text(node, "docId"),
		Timestamp: timestamp(node, opts.Now),
		LatencyMs: integer(node, "latencyMs"),
		Status:    text(node, "status"),
		Message:   text(node, "message"),
		URL:       text(node, "url"),
	}
	return Result{Kind: KindFlat, Event: evt}
}

// resolveURL prefers an explicit url, publicUrl, or internalUrl, then builds
// one from the public hostname or hostname.
func resolveURL(node map[string]interface{}, evt events.StreamEvent, defaultPort int) string {
	for _, key := range []string{"url", "publicUrl", "internalUrl"} {
		if v := strings.TrimSpace(text(node, key)); v != "" {
			return v
		}
	}

	host := strings.TrimSpace(evt.PublicHostname)
	if host == "" {
		host = strings.TrimSpace(evt.Hostname)
	}
	if host == "" {
		return ""
	}
	val := host
	if !strings.HasPrefix(val, "http://") && !strings.HasPrefix(val, "https://") {
		val = "http://" + val
	}
	if !strings.Contains(schemePrefix.ReplaceAllString(val, ""), ":") {
		val = strings.TrimSuffix(val, "/") + ":" + strconv.Itoa(defaultPort)
	}
	return val
}

func timestamp(node map[string]interface{}, now func() time.Time) int64 {
	switch v := node["timestamp"].(type) {
	case json.Number:
		if ms, err := numberToInt(v); err == nil {
			return ms
		}
	case string:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms
		}
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ts.UnixMilli()
		}
	}
	return now().UnixMilli()
}

func text(node map[string]interface{}, key string) string {
	if node == nil {
		return ""
	}
	switch v := node[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func firstText(node map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if _, ok := node[key]; ok && node[key] != nil {
			return text(node, key)
		}
	}
	return ""
}

func integer(node map[string]interface{}, key string) *int64 {
	var n json.Number
	switch v := node[key].(type) {
	case json.Number:
		n = v
	case string:
		n = json.Number(strings.TrimSpace(v))
	default:
		return nil
	}
	out, err := numberToInt(n)
	if err != nil {
		return nil
	}
	return &out
}

func float(node map[string]interface{}, key string) *float64 {
	var n json.Number
	switch v := node[key].(type) {
	case json.Number:
		n = v
	case string:
		n = json.Number(strings.TrimSpace(v))
	default:
		return nil
	}
	out, err := n.Float64()
	if err != nil {
		return nil
	}
	return &out
}

func numberToInt(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
