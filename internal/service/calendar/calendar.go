// Package calendar adapts scmhub/calendar exchange calendars to the
// aggregation scheduler.
package calendar

import (
	"strings"
	"time"

	domrepo "FinScan/internal/domain/repository"
	domsvc "FinScan/internal/domain/service"
	applogger "FinScan/pkg/logger"

	"github.com/scmhub/calendar"
)

// maxScanBack bounds the walk over holidays when collecting session days.
const maxScanBack = 400

// Exchange is a TradingCalendar backed by an ISO 10383 MIC calendar.
type Exchange struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

// New loads the calendar for mic ("xnys" when empty). When the library has
// no calendar for it, a Mon-Fri calendar in America/New_York is used.
func New(mic string, logger *applogger.Logger) *Exchange {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		mic = "xnys"
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		if logger != nil {
			logger.Warn("exchange calendar unavailable, using weekday fallback", applogger.String("mic", mic))
		}
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &Exchange{fallback: true, loc: loc}
	}
	loc := cal.Loc
	if loc == nil {
		loc = time.UTC
	}
	return &Exchange{cal: cal, loc: loc}
}

// NewWeekdays returns a Mon-Fri calendar in loc. Used by tests and as the
// fallback when no exchange calendar is configured.
func NewWeekdays(loc *time.Location) *Exchange {
	if loc == nil {
		loc = time.UTC
	}
	return &Exchange{fallback: true, loc: loc}
}

func (e *Exchange) Location() *time.Location { return e.loc }

func (e *Exchange) IsTradingDay(t time.Time) bool {
	t = t.In(e.loc)
	if e.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return e.cal.IsBusinessDay(t)
}

func (e *Exchange) PreviousTradingDays(t time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	day := domrepo.DayStart(t, e.loc)
	out := make([]time.Time, 0, n)
	for i := 1; i <= maxScanBack && len(out) < n; i++ {
		d := day.AddDate(0, 0, -i)
		// noon avoids DST edges when asking the library about d
		if e.IsTradingDay(d.Add(12 * time.Hour)) {
			out = append(out, d)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

var _ domsvc.TradingCalendar = (*Exchange)(nil)
