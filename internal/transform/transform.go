// Package transform turns matched rows into canonical records, one
// Transformer per dataset type. Header location, field lookup and matching
// are shared; only the mapping from fields to records differs.
package transform

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/match"
	"github.com/mjhen/rosterbridge/internal/records"
)

var (
	ErrNoIdentity = errors.New("no matched student")
	ErrNoRecords  = errors.New("no records produced")
)

// Input is one data row after matching.
type Input struct {
	Row        grid.Row
	Headers    []string
	Match      match.Result
	SourceFile string
}

func (in Input) base() records.Base {
	return records.NewBase(in.Match, in.SourceFile, in.Row.Line())
}

// Transformer builds records for one dataset type.
type Transformer interface {
	Dataset() records.DatasetType
	// HeaderPredicate recognizes this dataset's header row.
	HeaderPredicate() grid.Predicate
	// Transform returns the records for one matched row. Rows without an
	// identity or without the dataset's minimum field yield an error and no
	// records.
	Transform(in Input) ([]records.Record, error)
}

// Options are shared by every transformer.
type Options struct {
	Tables fields.Tables
	// Now anchors year inference for month/day headers and dates rows that
	// carry none. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Tables == nil {
		o.Tables = fields.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// For returns the transformer for dataset.
func For(dataset records.DatasetType, opts Options) (Transformer, error) {
	opts = opts.withDefaults()
	table := opts.Tables.Table(string(dataset))
	switch dataset {
	case records.Attendance:
		return &attendance{table: table, now: opts.Now}, nil
	case records.Grades:
		return &gradebook{table: table}, nil
	case records.Assessment:
		return &assessment{table: table}, nil
	case records.Discipline:
		return &discipline{table: table}, nil
	}
	return nil, fmt.Errorf("%w: %q", records.ErrUnknownDataset, dataset)
}

// All returns one transformer per dataset type in detection order.
func All(opts Options) []Transformer {
	out := make([]Transformer, 0, len(records.DatasetTypes()))
	for _, dataset := range records.DatasetTypes() {
		t, err := For(dataset, opts)
		if err != nil {
			panic(err)
		}
		out = append(out, t)
	}
	return out
}

// identityHeader matches any column that can identify a student.
var identityHeader = grid.AnyCell(regexp.MustCompile(
	`(?i)student.*(id|number|name)|^student$|fleid|^fl id$|state id|dcps id|florida education identifier|^name$|last name`))

func checkIdentity(in Input) error {
	if in.Match.StudentID == "" {
		return ErrNoIdentity
	}
	return nil
}

func lookup(table fields.Table, in Input, field string) string {
	v, _ := table.Find(in.Row.Values, in.Headers, field)
	return v
}
