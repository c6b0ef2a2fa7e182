// Package cache provides a key/value Service backed by Redis, an in-process
// LRU, or both layered together. Values are stored as JSON, except strings
// and byte slices which are stored as-is.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is the subset of cache operations FinScan relies on.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes keys matching a glob and reports how many went.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	MGet(ctx context.Context, keys ...string) (map[string][]byte, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(raw []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(raw)
		return nil
	case *[]byte:
		*d = append((*d)[:0], raw...)
		return nil
	default:
		return json.Unmarshal(raw, dest)
	}
}

// MGetTyped fetches keys and decodes each hit into T. Undecodable values
// are skipped.
func MGetTyped[T any](ctx context.Context, c Service, keys ...string) (map[string]T, error) {
	out := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	for k, b := range raw {
		var v T
		if json.Unmarshal(b, &v) == nil {
			out[k] = v
		}
	}
	return out, nil
}

// HashKey returns the hex SHA-256 of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// BuildPattern returns prefix:<parts...>:* where an empty part matches any
// single segment.
func BuildPattern(prefix string, parts ...string) string {
	segs := append(make([]string, 0, len(parts)+2), prefix)
	for _, p := range parts {
		if p == "" {
			p = "*"
		}
		segs = append(segs, p)
	}
	return strings.Join(append(segs, "*"), ":")
}
