package ingest

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func decodeOpts() DecodeOptions {
	return DecodeOptions{Now: func() time.Time { return fixedNow }}
}

func TestDecodeStatusEnvelope(t *testing.T) {
	t.Parallel()

	raw := `{
		"meta": {"service": "doc-ingest", "processingState": "STARTED", "inputMode": "scdf", "localStoragePath": "/data"},
		"event": "INIT",
		"instanceId": "doc-ingest-0",
		"status": "RUNNING",
		"lastError": "none",
		"timestamp": "2024-05-01T12:00:00Z",
		"uptime": "5m",
		"hostname": "doc-ingest-0.svc",
		"filesProcessed": 3,
		"filesTotal": 10,
		"processingRate": 0.5,
		"errorCount": 1,
		"memoryUsedMB": 512.5,
		"pendingMessages": null,
		"bootEpoch": 1714564800000,
		"version": "1.4.2"
	}`
	res, err := Decode([]byte(raw), decodeOpts())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Kind != KindEnvelope {
		t.Fatalf("expected envelope got %s", res.Kind)
	}
	evt := res.Event
	if evt.App != "doc-ingest" || evt.Stage != "STARTED" || evt.Event != "INIT" || evt.Status != "RUNNING" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.Message != "none" || evt.InstanceID != "doc-ingest-0" || evt.Uptime != "5m" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli(); evt.Timestamp != want {
		t.Fatalf("expected timestamp %d got %d", want, evt.Timestamp)
	}
	if evt.FilesProcessed == nil || *evt.FilesProcessed != 3 || evt.ErrorCount == nil || *evt.ErrorCount != 1 {
		t.Fatalf("expected counters, got %+v", evt)
	}
	if evt.MemoryUsedMB == nil || *evt.MemoryUsedMB != 512.5 || evt.PendingMessages != nil {
		t.Fatalf("unexpected telemetry %+v", evt)
	}
	if evt.URL != "http://doc-ingest-0.svc:8080" {
		t.Fatalf("expected url built from hostname, got %q", evt.URL)
	}

	inst := res.Instance
	if inst == nil {
		t.Fatalf("expected instance update")
	}
	if inst.Service != "doc-ingest" || inst.InstanceID != "doc-ingest-0" || !inst.Heartbeat || inst.Version != "1.4.2" {
		t.Fatalf("unexpected instance update %+v", inst)
	}
	if inst.BootEpoch == nil || *inst.BootEpoch != 1714564800000 {
		t.Fatalf("expected boot epoch, got %v", inst.BootEpoch)
	}
	if inst.Meta["localStoragePath"] != "/data" {
		t.Fatalf("expected meta to be forwarded, got %v", inst.Meta)
	}
}

func TestDecodeEnvelopeStagePrecedence(t *testing.T) {
	t.Parallel()

	res, err := Decode([]byte(`{"meta":{"service":"s","processingStage":"EMBED","processingState":"STARTED"},"timestamp":5}`), decodeOpts())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Event.Stage != "EMBED" || res.Event.Timestamp != 5 {
		t.Fatalf("unexpected event %+v", res.Event)
	}
	if res.Instance.Heartbeat {
		t.Fatalf("status without INIT/HEARTBEAT is not a heartbeat")
	}

	res, _ = Decode([]byte(`{"meta":{"service":"s","inputMode":"scdf"},"event":"heartbeat"}`), decodeOpts())
	if res.Event.Stage != "scdf" || !res.Instance.Heartbeat || res.Event.Timestamp != fixedNow.UnixMilli() {
		t.Fatalf("unexpected fallback decode %+v", res)
	}
}

func TestDecodeEnvelopeURLResolution(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"explicit url", `"url":"https://app.example.com","hostname":"ignored"`, "https://app.example.com"},
		{"public url", `"publicUrl":"http://public:9000"`, "http://public:9000"},
		{"internal url", `"internalUrl":"http://internal:9001"`, "http://internal:9001"},
		{"public hostname wins", `"publicHostname":"pub.example.com","hostname":"pod-1"`, "http://pub.example.com:8080"},
		{"hostname with port", `"hostname":"pod-1:7070"`, "http://pod-1:7070"},
		{"scheme kept", `"hostname":"https://secure.example.com/"`, "https://secure.example.com:8080"},
		{"blank url falls back", `"url":"  ","hostname":"pod-2"`, "http://pod-2:8080"},
		{"nothing", `"status":"IDLE"`, ""},
	}
	for _, tc := range cases {
		raw := `{"meta":{"service":"svc"},` + tc.body + `}`
		res, err := Decode([]byte(raw), decodeOpts())
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if res.Event.URL != tc.want {
			t.Fatalf("%s: expected %q got %q", tc.name, tc.want, res.Event.URL)
		}
	}

	res, _ := Decode([]byte(`{"meta":{"service":"svc"},"hostname":"pod"}`), DecodeOptions{DefaultPort: 9090})
	if res.Event.URL != "http://pod:9090" {
		t.Fatalf("expected configured default port, got %q", res.Event.URL)
	}
}

func TestDecodeFlatEvent(t *testing.T) {
	t.Parallel()

	res, err := Decode([]byte(`{"app":"embedder","stage":"chunk","event":"FILE_PROCESSED","docId":"doc-1","timestamp":1234,"latencyMs":87,"status":"OK","message":"done","url":"http://embedder:8080"}`), decodeOpts())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Kind != KindFlat || res.Instance != nil {
		t.Fatalf("expected flat event without instance update, got %+v", res)
	}
	evt := res.Event
	if evt.App != "embedder" || evt.Stage != "chunk" || evt.DocID != "doc-1" || evt.Timestamp != 1234 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.LatencyMs == nil || *evt.LatencyMs != 87 || evt.URL != "http://embedder:8080" || evt.Message != "done" {
		t.Fatalf("unexpected event %+v", evt)
	}

	res, _ = Decode([]byte(`{"app":"x","meta":{"note":"no service"}}`), decodeOpts())
	if res.Kind != KindFlat || res.Event.Timestamp != fixedNow.UnixMilli() {
		t.Fatalf("meta without service must decode as flat, got %+v", res)
	}
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "[]", "nope", `{"app":`} {
		if _, err := Decode([]byte(raw), decodeOpts()); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if _, err := Decode([]byte(`"x"`), decodeOpts()); !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject got %v", err)
	}
}
