// Package queue is a small Redis-backed work queue with delayed retries
// and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// Enqueuer hands work to the queue and returns the message ID.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// QueueConfig controls worker count and retry policy.
type QueueConfig struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	JobTimeout time.Duration // zero for none
}

// Stats is a snapshot of queue depths.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Retrying   int64 `json:"retrying"`
	Dead       int64 `json:"dead"`
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Enqueued  time.Time       `json:"enqueued"`
	LastError string          `json:"last_error,omitempty"`
}

func newMessage(id, msgType string, payload interface{}, now time.Time) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return &Message{ID: id, Type: msgType, Payload: raw, Enqueued: now.UTC()}, nil
}

func decodeMessage(s string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// nextStep decides where a failed message goes after attempt.
// It returns the retry time, or dead=true once the limit is spent.
func nextStep(cfg *QueueConfig, attempts int, now time.Time) (at time.Time, dead bool) {
	if attempts > cfg.RetryLimit {
		return time.Time{}, true
	}
	// linear backoff: delay, 2*delay, ...
	return now.Add(time.Duration(attempts) * cfg.RetryDelay), false
}

// ParsePayload converts a handler payload into T. Payloads arrive as
// json.RawMessage from Redis, or as typed values from in-process callers.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var raw []byte
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
