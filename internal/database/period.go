package database

import (
	"time"

	"github.com/uniplaces/carbon"
)

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return DateOf(time.Now())
}

// DateOf formats t as YYYY-MM-DD in t's location.
func DateOf(t time.Time) string {
	return carbon.NewCarbon(t).DateString()
}

// DaysAgo returns the date n days before t.
func DaysAgo(t time.Time, n int) string {
	return carbon.NewCarbon(t).SubDays(n).DateString()
}

// MonthStart returns the first day of t's month.
func MonthStart(t time.Time) string {
	return carbon.NewCarbon(t).StartOfMonth().DateString()
}

// IsCleanupDay reports whether housekeeping should run on t (Mondays).
func IsCleanupDay(t time.Time) bool {
	return carbon.NewCarbon(t).IsMonday()
}

// FormatDateDisplay formats a stored date for humans: "Feb 06, 2026".
func FormatDateDisplay(date string) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Jan 02, 2006")
}
