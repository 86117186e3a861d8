package fields

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical field names shared across dataset tables.
const (
	StudentDistrictID = "studentDistrictId"
	StudentStateID    = "studentStateId"
	RosterID          = "rosterId"
	FirstName         = "firstName"
	LastName          = "lastName"
	FullName          = "fullName"
	Grade             = "grade"
	Homeroom          = "homeroom"

	Date   = "date"
	Status = "status"

	Course      = "course"
	Section     = "section"
	Teacher     = "teacher"
	Term        = "term"
	Percent     = "percent"
	LetterGrade = "letterGrade"

	TestName         = "testName"
	Subject          = "subject"
	TestDate         = "testDate"
	Score            = "score"
	AchievementLevel = "achievementLevel"
	Percentile       = "percentile"

	IncidentID   = "incidentId"
	IncidentDate = "incidentDate"
	IncidentType = "incidentType"
	Action       = "action"
	Days         = "days"
	Description  = "description"
)

// Common holds aliases shared by every dataset, mostly identity columns.
const Common = "common"

//go:embed aliases.yaml
var defaultAliases []byte

var ErrInvalidTables = errors.New("invalid alias tables")

// Table maps a canonical field to its acceptable header spellings in
// priority order.
type Table map[string][]string

// Tables maps a dataset name (or Common) to its table.
type Tables map[string]Table

// Aliases returns the header spellings registered for field.
func (t Table) Aliases(field string) []string {
	return t[field]
}

// Find resolves field from row using this table's aliases.
func (t Table) Find(row map[string]string, headers []string, field string) (string, bool) {
	return Find(row, headers, t[field])
}

// FindAll returns every candidate value for field.
func (t Table) FindAll(row map[string]string, headers []string, field string) []string {
	return FindAll(row, headers, t[field])
}

// Table returns the effective table for dataset: the common entries
// overlaid with the dataset's own.
func (ts Tables) Table(dataset string) Table {
	out := Table{}
	for field, aliases := range ts[Common] {
		out[field] = aliases
	}
	for field, aliases := range ts[dataset] {
		out[field] = aliases
	}
	return out
}

// Default returns the built-in alias tables.
func Default() Tables {
	tables, err := Parse(defaultAliases)
	if err != nil {
		panic(fmt.Sprintf("fields: embedded aliases.yaml: %v", err))
	}
	return tables
}

// Parse decodes a YAML document of the form dataset -> field -> [aliases].
func Parse(data []byte) (Tables, error) {
	var raw map[string]map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTables, err)
	}
	tables := make(Tables, len(raw))
	for dataset, fields := range raw {
		dataset = strings.TrimSpace(dataset)
		if dataset == "" {
			return nil, fmt.Errorf("%w: empty dataset name", ErrInvalidTables)
		}
		table := make(Table, len(fields))
		for field, aliases := range fields {
			cleaned := make([]string, 0, len(aliases))
			for _, a := range aliases {
				if a = strings.TrimSpace(a); a != "" {
					cleaned = append(cleaned, a)
				}
			}
			if len(cleaned) == 0 {
				return nil, fmt.Errorf("%w: %s.%s has no aliases", ErrInvalidTables, dataset, field)
			}
			table[field] = cleaned
		}
		tables[dataset] = table
	}
	return tables, nil
}

// Merge overlays override onto base per dataset and field.
func Merge(base, override Tables) Tables {
	out := make(Tables, len(base))
	for dataset, table := range base {
		cp := make(Table, len(table))
		for field, aliases := range table {
			cp[field] = aliases
		}
		out[dataset] = cp
	}
	for dataset, table := range override {
		if out[dataset] == nil {
			out[dataset] = Table{}
		}
		for field, aliases := range table {
			out[dataset][field] = aliases
		}
	}
	return out
}

// Load returns the default tables overlaid with the YAML file at path. An
// empty path yields the defaults.
func Load(path string) (Tables, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias tables: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Merge(base, override), nil
}
