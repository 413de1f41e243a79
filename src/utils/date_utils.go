package utils

import (
	"log"
	"time"
)

const DefaultDateFormat = "2006-01-02"

// ParseDate parses a date string using the default format.
// Logs an error and returns zero time if parsing fails.
func ParseDate(dateStr string) time.Time {
	t, err := time.Parse(DefaultDateFormat, dateStr)
	if err != nil {
		log.Printf("Error parsing date '%s' with format '%s': %v. Returning zero time.", dateStr, DefaultDateFormat, err)
		return time.Time{} // Return zero time on error
	}
	return t
}

// FormatDate renders a time using the default format.
func FormatDate(t time.Time) string {
	return t.Format(DefaultDateFormat)
}

// DayUTC normalizes a time to its calendar day as a UTC midnight.
// Statement timestamps carry whatever zone offset the export used, while
// dates read back from storage are UTC; calendar-day comparison and
// subtraction are only correct after both sides go through this.
func DayUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole calendar days from a to b, independent of
// the zone offsets the two times carry. Negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(DayUTC(b).Sub(DayUTC(a)).Hours() / 24)
}
