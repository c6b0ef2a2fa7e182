package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "scan"))
	l.Info("scan done",
		Int("matches", 3),
		Bool("cached", true),
		Duration("elapsed", 1500*time.Millisecond),
		Date("date", time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)),
		Strings("phases", []string{"C", "D"}),
		Error(errors.New("boom")))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]interface{}{
		"component": "scan",
		"matches":   float64(3),
		"cached":    true,
		"elapsed":   float64(1500),
		"date":      "2025-03-04",
		"phases":    "C,D",
		"error":     "boom",
		"message":   "scan done",
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("%s = %v, want %v (line %s)", k, line[k], v, buf.String())
		}
	}
}

func TestCollectorDeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{Topic: "finscan.logs", Service: "finscan", Publisher: pub, TimeInterval: time.Hour})

	for i := 0; i < 3; i++ {
		l.Error("store unavailable", String("op", "insert"))
	}
	l.Error("store unavailable", String("op", "query"))
	l.Warn("ignored without IncludeWarn")
	l.RemoveCollector()

	if len(pub.batches) != 1 || pub.topic != "finscan.logs" {
		t.Fatalf("batches=%d topic=%q", len(pub.batches), pub.topic)
	}
	batch := pub.batches[0]
	if len(batch) != 2 {
		t.Fatalf("entries = %d, want 2", len(batch))
	}
	counts := map[interface{}]int{}
	for _, e := range batch {
		if e.Service != "finscan" || e.Level != "error" {
			t.Fatalf("unexpected entry %+v", e)
		}
		counts[e.Fields["op"]] = e.Count
	}
	if counts["insert"] != 3 || counts["query"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestCollectorThresholdFlush(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{Publisher: pub, CountThreshold: 2, TimeInterval: time.Hour})
	tick := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	c.Close()

	if len(pub.batches) != 1 || len(pub.batches[0]) != 2 {
		t.Fatalf("batches = %+v", pub.batches)
	}
	if pub.batches[0][0].Message != "a" {
		t.Fatalf("entries not ordered by first sighting: %+v", pub.batches[0])
	}
}
