package transform

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/normalize"
	"github.com/mjhen/rosterbridge/internal/records"
)

type assessment struct {
	table fields.Table
}

var assessmentHeader = grid.All(
	identityHeader,
	grid.AnyCell(regexp.MustCompile(`(?i)scale score|equivalent score|achievement level|performance level`)),
)

// benchmarkColumn matches per-benchmark breakdown columns such as
// "Reading Prose and Poetry Performance" or "Algebraic Reasoning Category".
var benchmarkColumn = regexp.MustCompile(`(?i)^(.+?)\s+(performance|category)$`)

func (a *assessment) Dataset() records.DatasetType { return records.Assessment }

func (a *assessment) HeaderPredicate() grid.Predicate { return assessmentHeader }

// Transform emits the overall score record and one record per populated
// benchmark column. A row needs a parseable score or at least one benchmark.
func (a *assessment) Transform(in Input) ([]records.Record, error) {
	if err := checkIdentity(in); err != nil {
		return nil, err
	}

	testName := lookup(a.table, in, fields.TestName)
	subject := lookup(a.table, in, fields.Subject)
	if testName == "" {
		testName = subject
	}
	if testName == "" && in.SourceFile != "" {
		testName = strings.TrimSuffix(filepath.Base(in.SourceFile), filepath.Ext(in.SourceFile))
	}
	var testDate string
	if d, ok := normalize.ParseDate(lookup(a.table, in, fields.TestDate)); ok {
		testDate = normalize.FormatDate(d)
	}
	newRecord := func() *records.AssessmentRecord {
		return &records.AssessmentRecord{
			Base:     in.base(),
			TestName: testName,
			Subject:  subject,
			TestDate: testDate,
		}
	}

	var out []records.Record
	scoreRaw := lookup(a.table, in, fields.Score)
	if !normalize.IsPlaceholder(scoreRaw) {
		score, err := normalize.ParseNumber(scoreRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q", scoreRaw)
		}
		rec := newRecord()
		rec.Score = &score
		rec.AchievementLevel = lookup(a.table, in, fields.AchievementLevel)
		if p, ok := normalize.ProficiencyFromLevel(rec.AchievementLevel); ok {
			rec.Proficiency = p
		}
		if pct, err := normalize.ParseNumber(lookup(a.table, in, fields.Percentile)); err == nil {
			rec.Percentile = &pct
		}
		out = append(out, rec)
	}

	for _, header := range in.Headers {
		m := benchmarkColumn.FindStringSubmatch(header)
		if m == nil {
			continue
		}
		level := in.Row.Get(header)
		if normalize.IsPlaceholder(level) {
			continue
		}
		rec := newRecord()
		rec.Benchmark = strings.TrimSpace(m[1])
		rec.AchievementLevel = level
		if p, ok := normalize.ProficiencyFromLevel(level); ok {
			rec.Proficiency = p
		}
		out = append(out, rec)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no score", ErrNoRecords)
	}
	return out, nil
}
