package roster

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
)

// Dataset is the alias-table name used for roster exports.
const Dataset = "roster"

// HeaderPredicate recognizes a roster export header: some identifier column
// together with some name column.
var HeaderPredicate = grid.All(
	grid.AnyCell(regexp.MustCompile(`(?i)student.*(id|number)|fleid|^fl id$|state id|dcps id`)),
	grid.AnyCell(regexp.MustCompile(`(?i)name|^student$`)),
)

// idNamespace seeds deterministic student ids so reloading the same roster
// keeps every canonical id stable.
var idNamespace = uuid.MustParse("5f8a1c8e-3d2b-4b8e-9a57-1c4a2f9d6e10")

// LoadOptions tune LoadGrid.
type LoadOptions struct {
	StatePrefix string
	MaxScanRows int
}

// LoadResult is a parsed roster export.
type LoadResult struct {
	Students  []Student `json:"students"`
	HeaderRow int       `json:"headerRow"`
	Errors    []string  `json:"errors"`
}

// LoadGrid reads students from a decoded roster export. A row without any
// name or identifier is reported and skipped. Rows without an explicit
// roster id get one derived from their district id, then state id, then a
// random one.
func LoadGrid(g grid.Grid, table fields.Table, opts LoadOptions) (*LoadResult, error) {
	headerRow, headers, err := grid.Locate(g, HeaderPredicate, opts.MaxScanRows)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	validState := func(v string) bool {
		return ValidStateID(v, opts.StatePrefix)
	}
	res := &LoadResult{HeaderRow: headerRow}
	for _, row := range g.Records(headerRow, headers) {
		s := Student{
			DistrictID: firstValid(table.FindAll(row.Values, headers, fields.StudentDistrictID), ValidDistrictID),
			StateID:    firstValid(table.FindAll(row.Values, headers, fields.StudentStateID), validState),
			Homeroom:   find(table, row, headers, fields.Homeroom),
			Grade:      NormalizeGrade(find(table, row, headers, fields.Grade)),
		}
		s.FirstName = find(table, row, headers, fields.FirstName)
		s.LastName = find(table, row, headers, fields.LastName)
		if s.FirstName != "" && s.FirstName == s.LastName {
			s.FirstName, s.LastName = SplitName(s.FirstName)
		}
		if s.FirstName == "" && s.LastName == "" {
			full := firstValid(table.FindAll(row.Values, headers, fields.FullName), PlausibleName)
			s.FirstName, s.LastName = SplitName(full)
		}
		if NameKey(s.FirstName, s.LastName) == "" && s.DistrictID == "" && s.StateID == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: no student name or identifier", row.Line()))
			continue
		}
		s.ID = find(table, row, headers, fields.RosterID)
		if s.ID == "" {
			s.ID = deriveID(s)
		}
		res.Students = append(res.Students, s)
	}
	return res, nil
}

func deriveID(s Student) string {
	switch {
	case s.DistrictID != "":
		return uuid.NewSHA1(idNamespace, []byte("district:"+s.DistrictID)).String()
	case s.StateID != "":
		return uuid.NewSHA1(idNamespace, []byte("state:"+strings.ToUpper(s.StateID))).String()
	}
	return uuid.NewString()
}

func find(table fields.Table, row grid.Row, headers []string, field string) string {
	v, _ := table.Find(row.Values, headers, field)
	return v
}

func firstValid(candidates []string, valid func(string) bool) string {
	for _, c := range candidates {
		if valid(c) {
			return c
		}
	}
	return ""
}
