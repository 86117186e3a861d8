package transform

import (
	"fmt"
	"regexp"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/normalize"
	"github.com/mjhen/rosterbridge/internal/records"
)

type gradebook struct {
	table fields.Table
}

var gradesHeader = grid.All(
	identityHeader,
	grid.AnyCell(regexp.MustCompile(`(?i)course|^class$`)),
	grid.AnyCell(regexp.MustCompile(`(?i)grade|percent|mark|average`)),
)

func (g *gradebook) Dataset() records.DatasetType { return records.Grades }

func (g *gradebook) HeaderPredicate() grid.Predicate { return gradesHeader }

// Transform needs a course plus a letter grade or a percentage. A numeric
// value in the letter column is read as a percentage, and the letter is
// derived from the percentage when the export has none.
func (g *gradebook) Transform(in Input) ([]records.Record, error) {
	if err := checkIdentity(in); err != nil {
		return nil, err
	}
	course := lookup(g.table, in, fields.Course)
	if course == "" {
		return nil, fmt.Errorf("%w: no course", ErrNoRecords)
	}

	rec := &records.GradeRecord{
		Base:    in.base(),
		Course:  course,
		Section: lookup(g.table, in, fields.Section),
		Teacher: lookup(g.table, in, fields.Teacher),
		Term:    lookup(g.table, in, fields.Term),
	}

	letterRaw := lookup(g.table, in, fields.LetterGrade)
	rec.LetterGrade = normalize.NormalizeLetter(letterRaw)

	pctRaw := lookup(g.table, in, fields.Percent)
	if pctRaw == letterRaw && rec.LetterGrade != "" {
		// Both lookups landed on the same letter column.
		pctRaw = ""
	}
	if rec.LetterGrade == "" && !normalize.IsPlaceholder(letterRaw) && pctRaw == "" {
		pctRaw = letterRaw
	}
	if !normalize.IsPlaceholder(pctRaw) {
		pct, err := normalize.ParseNumber(pctRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid percent %q", pctRaw)
		}
		rec.Percent = &pct
	}

	if rec.LetterGrade == "" && rec.Percent == nil {
		if !normalize.IsPlaceholder(letterRaw) {
			return nil, fmt.Errorf("invalid letter grade %q", letterRaw)
		}
		return nil, fmt.Errorf("%w: no grade for %s", ErrNoRecords, course)
	}
	if rec.LetterGrade == "" {
		rec.LetterGrade = normalize.LetterFromPercent(*rec.Percent)
	}
	return []records.Record{rec}, nil
}
