package transform

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/normalize"
	"github.com/mjhen/rosterbridge/internal/records"
)

// attendance handles both the wide matrix layout (one "M/D" column per
// school day) and the long layout (one row per student-day with a status
// column and an optional date column).
type attendance struct {
	table fields.Table
	now   func() time.Time
}

var (
	dayColumn    = grid.AnyCell(regexp.MustCompile(`^\d{1,2}/\d{1,2}$`))
	statusColumn = grid.AnyCell(regexp.MustCompile(`(?i)^(status|attendance code|att code|code|attendance)$`))
)

func (a *attendance) Dataset() records.DatasetType { return records.Attendance }

func (a *attendance) HeaderPredicate() grid.Predicate {
	return grid.All(identityHeader, grid.AnyOf(dayColumn, statusColumn))
}

func (a *attendance) Transform(in Input) ([]records.Record, error) {
	if err := checkIdentity(in); err != nil {
		return nil, err
	}
	now := a.now()
	year := now.Year()

	var out []records.Record
	wide := false
	for _, header := range in.Headers {
		day, ok := normalize.HeaderDate(header, year)
		if !ok {
			continue
		}
		wide = true
		code := in.Row.Get(header)
		if normalize.IsPlaceholder(code) {
			continue
		}
		out = append(out, a.record(in, day, code))
	}
	if wide {
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: every day column is empty", ErrNoRecords)
		}
		return out, nil
	}

	code := lookup(a.table, in, fields.Status)
	if normalize.IsPlaceholder(code) {
		return nil, fmt.Errorf("%w: no attendance status", ErrNoRecords)
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if raw := lookup(a.table, in, fields.Date); raw != "" {
		parsed, ok := normalize.ParseDate(raw)
		if !ok {
			return nil, fmt.Errorf("invalid attendance date %q", raw)
		}
		day = parsed
	}
	return []records.Record{a.record(in, day, code)}, nil
}

func (a *attendance) record(in Input, day time.Time, code string) *records.AttendanceRecord {
	return &records.AttendanceRecord{
		Base:   in.base(),
		Date:   normalize.FormatDate(day),
		Status: normalize.Attendance(code),
		Code:   code,
	}
}
