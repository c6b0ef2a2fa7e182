package util

import (
	"testing"
	"time"
)

func TestParseDateIn(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2025-03-04", time.Date(2025, 3, 4, 0, 0, 0, 0, ny), true},
		{" 2025-03-04 ", time.Date(2025, 3, 4, 0, 0, 0, 0, ny), true},
		{"2025-03-04T14:30:00Z", time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC), true},
		{"1741098600", time.Unix(1741098600, 0), true},
		{"03/04/2025", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseDateIn(tc.in, ny)
		if ok != tc.ok || (ok && !got.Equal(tc.want)) {
			t.Fatalf("ParseDateIn(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault(" 42 ", 1) != 42 || ParseIntDefault("x", 7) != 7 || ParseIntDefault("", 3) != 3 {
		t.Fatalf("ParseIntDefault mismatch")
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" AAPL, msft,,AAPL ,nvda ")
	want := []string{"AAPL", "msft", "nvda"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if SplitCSV(" , ") != nil {
		t.Fatalf("expected nil for blank list")
	}
}
