package events

import (
	"errors"
	"testing"
)

func TestDecodeAcceptsObjects(t *testing.T) {
	t.Parallel()

	evt, err := Decode([]byte(`{"timestamp":1700000000000,"app":"ingestor","event":"INIT","status":"RUNNING","errorCount":3,"processingRate":1.5,"custom":"ignored"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.App != "ingestor" || evt.Event != TagInit || evt.Status != "RUNNING" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.ErrorCount == nil || *evt.ErrorCount != 3 {
		t.Fatalf("expected errorCount 3, got %v", evt.ErrorCount)
	}
	if evt.ProcessingRate == nil || *evt.ProcessingRate != 1.5 {
		t.Fatalf("expected processingRate 1.5, got %v", evt.ProcessingRate)
	}
	if evt.Time().UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected time %v", evt.Time())
	}
}

func TestDecodeKeepsUnknownTags(t *testing.T) {
	t.Parallel()

	evt, err := Decode([]byte(`{"timestamp":1,"event":"SOMETHING_NEW"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Event != "SOMETHING_NEW" {
		t.Fatalf("expected tag to be preserved, got %q", evt.Event)
	}
}

func TestDecodeToleratesMismatchedTypes(t *testing.T) {
	t.Parallel()

	evt, err := Decode([]byte(`{"timestamp":10,"app":"a","errorCount":"many","uptime":"3m"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.App != "a" || (evt.ErrorCount != nil && *evt.ErrorCount != 0) || evt.Uptime != "3m" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestDecodeReadsLooseTimestamps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload string
		want    int64
	}{
		{`{"timestamp":1.7e12,"app":"a"}`, 1_700_000_000_000},
		{`{"timestamp":1700000000000.9,"app":"a"}`, 1_700_000_000_000},
		{`{"timestamp":"1700000000000","app":"a"}`, 1_700_000_000_000},
		{`{"timestamp":"soon","app":"a"}`, 0},
	}
	for _, tc := range cases {
		evt, err := Decode([]byte(tc.payload))
		if err != nil {
			t.Fatalf("%s: decode: %v", tc.payload, err)
		}
		if evt.Timestamp != tc.want || evt.App != "a" {
			t.Fatalf("%s: expected timestamp %d got %+v", tc.payload, tc.want, evt)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"garbage": `not json`,
		"array":   `[1,2,3]`,
		"string":  `"hello"`,
		"empty":   ``,
		"broken":  `{"timestamp":`,
	}
	for name, payload := range cases {
		if _, err := Decode([]byte(payload)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Decode([]byte(`42`)); !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject, got %v", err)
	}
}
