package wire

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := NewEnvelope("cluster:sync", map[string]any{
		"event": "state",
		"post":  "add",
	}, time.Unix(1700000000, 0))

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Topic != in.Topic {
		t.Fatalf("topic mismatch: %q vs %q", out.Topic, in.Topic)
	}
	if out.Payload["event"] != "state" || out.Payload["post"] != "add" {
		t.Fatalf("payload mismatch: %+v", out.Payload)
	}
	if out.Timestamp != in.Timestamp {
		t.Fatalf("timestamp mismatch: %d vs %d", out.Timestamp, in.Timestamp)
	}
}
