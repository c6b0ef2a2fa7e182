package service

import "time"

// TradingCalendar answers which calendar days an exchange is in session.
type TradingCalendar interface {
	Location() *time.Location
	IsTradingDay(t time.Time) bool
	// PreviousTradingDays returns up to n session days strictly before t's
	// calendar day, oldest first, each at midnight in Location().
	PreviousTradingDays(t time.Time, n int) []time.Time
}
