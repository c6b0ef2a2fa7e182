// Package util holds small parsing helpers shared by config and HTTP code.
package util

import (
	"strconv"
	"strings"
	"time"
)

// ParseDateIn accepts a session date (YYYY-MM-DD, midnight in loc), an
// RFC3339 timestamp, or unix seconds.
func ParseDateIn(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).In(loc), true
	}
	return time.Time{}, false
}

// ParseIntDefault returns def when s is empty or not an integer.
func ParseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}

// SplitCSV splits on commas, trimming blanks and dropping empty and
// repeated items while keeping first-seen order.
func SplitCSV(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
