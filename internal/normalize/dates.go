// Package normalize converts dataset-specific encodings (dates, attendance
// codes, achievement levels, numbers) into canonical values. Every function
// is pure.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mjhen/rosterbridge/internal/grid"
)

// DateLayout is the canonical calendar-date rendering.
const DateLayout = "2006-01-02"

// SchoolYearStartMonth is the first month of the school year. Month-day
// headers at or after it belong to the current calendar year, earlier ones
// to the next.
const SchoolYearStartMonth = time.August

var monthDayHeader = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)

// HeaderDate interprets an attendance matrix column label such as "8/15".
// Labels that are not month/day pairs, or name a day the month does not
// have, are rejected.
func HeaderDate(header string, year int) (time.Time, bool) {
	m := monthDayHeader.FindStringSubmatch(grid.CleanCell(header))
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	if time.Month(month) < SchoolYearStartMonth {
		year++
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"1/2/06",
	"01/02/2006 15:04",
	"1/2/2006 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2-Jan-2006",
	"02-Jan-06",
	time.RFC3339,
}

// excelEpoch is day zero of the 1900 date system once the phantom
// 1900-02-29 is accounted for.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseDate accepts the date spellings seen in school exports, including
// spreadsheet serial numbers, and returns the calendar day in UTC.
func ParseDate(value string) (time.Time, bool) {
	value = grid.CleanCell(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, value); err == nil {
			y, m, d := parsed.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial >= 1 && serial < 2958466 {
		return excelEpoch.AddDate(0, 0, int(serial)), true
	}
	return time.Time{}, false
}

// FormatDate renders t in DateLayout, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// IsPlaceholder reports whether a cell holds one of the "no data" markers
// exports use instead of leaving it empty.
func IsPlaceholder(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "-", "--", "*", "**", "N/A", "n/a", "NA":
		return true
	}
	return false
}
