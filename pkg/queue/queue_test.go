package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type samplePayload struct {
	Symbols []string `json:"symbols"`
	Date    string   `json:"date"`
}

func TestParsePayloadFromRawMessage(t *testing.T) {
	raw := json.RawMessage(`{"symbols":["A","B"],"date":"2025-03-04"}`)
	got, err := ParsePayload[samplePayload](raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Symbols) != 2 || got.Date != "2025-03-04" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestParsePayloadFromMap(t *testing.T) {
	got, err := ParsePayload[samplePayload](map[string]interface{}{"symbols": []interface{}{"A"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Symbols) != 1 || got.Symbols[0] != "A" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestParsePayloadTyped(t *testing.T) {
	in := samplePayload{Date: "x"}
	got, err := ParsePayload[samplePayload](in)
	if err != nil || got.Date != "x" {
		t.Fatalf("unexpected %+v %v", got, err)
	}
	if _, err := ParsePayload[samplePayload](42); err == nil {
		t.Fatalf("expected error for unsupported payload type")
	}
}

func TestNextStepLinearThenDead(t *testing.T) {
	cfg := &QueueConfig{RetryLimit: 2, RetryDelay: 10 * time.Second}
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

	at, dead := nextStep(cfg, 1, now)
	if dead || !at.Equal(now.Add(10*time.Second)) {
		t.Fatalf("attempt 1: at=%v dead=%v", at, dead)
	}
	at, dead = nextStep(cfg, 2, now)
	if dead || !at.Equal(now.Add(20*time.Second)) {
		t.Fatalf("attempt 2: at=%v dead=%v", at, dead)
	}
	if _, dead = nextStep(cfg, 3, now); !dead {
		t.Fatalf("attempt 3 should be dead")
	}
}

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	msg, err := newMessage("id-1", "aggregation.trigger", samplePayload{Date: "2025-03-04"}, now)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, _ := json.Marshal(msg)
	got, err := decodeMessage(string(b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := ParsePayload[samplePayload](got.Payload)
	if err != nil || p.Date != "2025-03-04" || got.Type != "aggregation.trigger" {
		t.Fatalf("got %+v payload %+v err %v", got, p, err)
	}
	if _, err := decodeMessage("{"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestConsumerOnlyRejectsEnqueue(t *testing.T) {
	q := NewRedisQueue(nil, nil, nil, ModeConsumerOnly, WithKeyPrefix("x"))
	if _, err := q.Enqueue(context.Background(), "t", 1); err == nil {
		t.Fatalf("expected enqueue error")
	}
	if q.key("dead") != "x:dead" {
		t.Fatalf("key = %s", q.key("dead"))
	}
	if err := q.Start(); err == nil {
		t.Fatalf("expected error with no jobs")
	}
}
