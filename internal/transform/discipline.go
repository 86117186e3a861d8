package transform

import (
	"fmt"
	"regexp"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/normalize"
	"github.com/mjhen/rosterbridge/internal/records"
)

type discipline struct {
	table fields.Table
}

var disciplineHeader = grid.All(
	identityHeader,
	grid.AnyCell(regexp.MustCompile(`(?i)incident|infraction|offense|referral`)),
)

func (d *discipline) Dataset() records.DatasetType { return records.Discipline }

func (d *discipline) HeaderPredicate() grid.Predicate { return disciplineHeader }

func (d *discipline) Transform(in Input) ([]records.Record, error) {
	if err := checkIdentity(in); err != nil {
		return nil, err
	}
	rawDate := lookup(d.table, in, fields.IncidentDate)
	if rawDate == "" {
		return nil, fmt.Errorf("%w: no incident date", ErrNoRecords)
	}
	day, ok := normalize.ParseDate(rawDate)
	if !ok {
		return nil, fmt.Errorf("invalid incident date %q", rawDate)
	}

	rec := &records.DisciplineRecord{
		Base:         in.base(),
		IncidentID:   lookup(d.table, in, fields.IncidentID),
		IncidentDate: normalize.FormatDate(day),
		IncidentType: lookup(d.table, in, fields.IncidentType),
		Action:       lookup(d.table, in, fields.Action),
		Description:  lookup(d.table, in, fields.Description),
	}
	if raw := lookup(d.table, in, fields.Days); !normalize.IsPlaceholder(raw) {
		days, err := normalize.ParseNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid action days %q", raw)
		}
		rec.Days = &days
	}
	return []records.Record{rec}, nil
}
