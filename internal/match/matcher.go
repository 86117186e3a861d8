// Package match resolves source rows to canonical students with a tiered,
// confidence-scored strategy.
package match

import (
	"math"
	"strings"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/roster"
)

// Strategy names the evidence tier that produced a match.
type Strategy string

const (
	StrategyDistrictID             Strategy = "district-id"
	StrategyStateID                Strategy = "state-id"
	StrategyNameExact              Strategy = "name-exact"
	StrategyNameExactDisambiguated Strategy = "name-exact-disambiguated"
	StrategyNameExactAmbiguous     Strategy = "name-exact-ambiguous"
	StrategyNameFuzzy              Strategy = "name-fuzzy"
)

// Confidence per tier. Fuzzy matches scale FuzzyWeight by similarity.
const (
	ConfidenceDistrictID    = 100
	ConfidenceStateID       = 95
	ConfidenceNameExact     = 85
	ConfidenceDisambiguated = 80
	ConfidenceAmbiguous     = 70
	FuzzyWeight             = 70
	DefaultFuzzyThreshold   = 0.85
)

// Result is the outcome of resolving one row.
type Result struct {
	Student    roster.Student `json:"-"`
	StudentID  string         `json:"studentId"`
	Strategy   Strategy       `json:"strategy"`
	Confidence int            `json:"confidence"`
	// SourceID is the identifier the source row carried: the raw district or
	// state id when present, otherwise the raw name.
	SourceID string `json:"sourceId"`
}

// Matcher resolves rows against one roster index. It holds no mutable
// state, so one Matcher may serve concurrent imports.
type Matcher struct {
	index          *roster.Index
	table          fields.Table
	statePrefix    string
	fuzzyThreshold float64

	// claimed holds normalized header spellings that the table assigns only
	// to non-identity fields, such as "incidentid". Identity lookups never
	// read those columns.
	claimed map[string]bool
}

var identityFields = map[string]bool{
	fields.StudentDistrictID: true,
	fields.StudentStateID:    true,
	fields.RosterID:          true,
	fields.FirstName:         true,
	fields.LastName:          true,
	fields.FullName:          true,
	fields.Grade:             true,
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithStatePrefix sets the two-letter prefix state ids must carry.
func WithStatePrefix(prefix string) Option {
	return func(m *Matcher) {
		if prefix != "" {
			m.statePrefix = prefix
		}
	}
}

// WithFuzzyThreshold sets the similarity a fuzzy candidate must exceed.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 && threshold <= 1 {
			m.fuzzyThreshold = threshold
		}
	}
}

// New returns a Matcher over index. table supplies the identity aliases
// (district id, state id, names, grade) for the dataset being imported.
func New(index *roster.Index, table fields.Table, opts ...Option) *Matcher {
	m := &Matcher{
		index:          index,
		table:          table,
		statePrefix:    roster.DefaultStatePrefix,
		fuzzyThreshold: DefaultFuzzyThreshold,
		claimed:        claimedHeaders(table),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func claimedHeaders(table fields.Table) map[string]bool {
	identity := map[string]bool{}
	other := map[string]bool{}
	for field, aliases := range table {
		for _, alias := range aliases {
			key := fields.NormalizeKey(alias)
			if key == "" {
				continue
			}
			if identityFields[field] {
				identity[key] = true
			} else {
				other[key] = true
			}
		}
	}
	claimed := make(map[string]bool, len(other))
	for key := range other {
		if !identity[key] {
			claimed[key] = true
		}
	}
	return claimed
}

// identityView drops the columns claimed by non-identity fields from row
// and headers.
func (m *Matcher) identityView(row map[string]string, headers []string) (map[string]string, []string) {
	if len(m.claimed) == 0 {
		return row, headers
	}
	view := make(map[string]string, len(row))
	for k, v := range row {
		if !m.claimed[fields.NormalizeKey(k)] {
			view[k] = v
		}
	}
	if headers == nil {
		return view, nil
	}
	kept := make([]string, 0, len(headers))
	for _, h := range headers {
		if !m.claimed[fields.NormalizeKey(h)] {
			kept = append(kept, h)
		}
	}
	return view, kept
}

// Identity is what a row says about who it belongs to.
type Identity struct {
	DistrictID string
	StateID    string
	FirstName  string
	LastName   string
	Grade      string
	// RawID is the first identifier-looking cell, valid or not.
	RawID string
}

// NameKey returns the normalized name key, or "" when the row has no name.
func (id Identity) NameKey() string {
	return roster.NameKey(id.FirstName, id.LastName)
}

// Empty reports whether the row carries nothing the matcher can use.
func (id Identity) Empty() bool {
	return id.DistrictID == "" && id.StateID == "" && id.NameKey() == ""
}

func (id Identity) sourceID() string {
	switch {
	case id.DistrictID != "":
		return id.DistrictID
	case id.StateID != "":
		return id.StateID
	case id.RawID != "":
		return id.RawID
	}
	switch {
	case id.LastName == "":
		return id.FirstName
	case id.FirstName == "":
		return id.LastName
	}
	return id.LastName + ", " + id.FirstName
}

// Extract pulls the identifying fields out of row. Only candidates in a
// valid district or state id format are kept as ids, and only a cell that
// reads as a grade level is kept as the grade.
func (m *Matcher) Extract(row map[string]string, headers []string) Identity {
	var id Identity
	row, headers = m.identityView(row, headers)
	for _, v := range m.table.FindAll(row, headers, fields.StudentDistrictID) {
		if id.RawID == "" && !roster.PlausibleName(v) {
			id.RawID = v
		}
		if roster.ValidDistrictID(v) {
			id.DistrictID = v
			break
		}
	}
	for _, v := range m.table.FindAll(row, headers, fields.StudentStateID) {
		if id.RawID == "" && !roster.PlausibleName(v) {
			id.RawID = v
		}
		if roster.ValidStateID(v, m.statePrefix) {
			id.StateID = strings.ToUpper(v)
			break
		}
	}

	id.FirstName, _ = m.table.Find(row, headers, fields.FirstName)
	id.LastName, _ = m.table.Find(row, headers, fields.LastName)
	if !roster.PlausibleName(id.FirstName) {
		id.FirstName = ""
	}
	if !roster.PlausibleName(id.LastName) {
		id.LastName = ""
	}
	if id.FirstName != "" && id.FirstName == id.LastName {
		// Both lookups landed on one combined column such as "Name".
		id.FirstName, id.LastName = roster.SplitName(id.FirstName)
	}
	if id.FirstName == "" && id.LastName == "" {
		for _, full := range m.table.FindAll(row, headers, fields.FullName) {
			if roster.PlausibleName(full) {
				id.FirstName, id.LastName = roster.SplitName(full)
				break
			}
		}
	}
	for _, v := range m.table.FindAll(row, headers, fields.Grade) {
		if g := roster.NormalizeGrade(v); gradeLevel(g) {
			id.Grade = g
			break
		}
	}
	return id
}

// gradeLevel reports whether a normalized grade is K, PK or a number, as
// opposed to a letter grade that landed in a grade lookup.
func gradeLevel(g string) bool {
	if g == "K" || g == "PK" {
		return true
	}
	if g == "" || len(g) > 2 {
		return false
	}
	for i := 0; i < len(g); i++ {
		if g[i] < '0' || g[i] > '9' {
			return false
		}
	}
	return true
}

// Resolve matches row against the index. Tiers run in fixed order and the
// first tier that finds a student wins.
func (m *Matcher) Resolve(row map[string]string, headers []string) (Result, bool) {
	return m.ResolveIdentity(m.Extract(row, headers))
}

// ResolveIdentity runs the tiers on an already extracted identity.
func (m *Matcher) ResolveIdentity(id Identity) (Result, bool) {
	source := id.sourceID()
	result := func(s roster.Student, strategy Strategy, confidence int) (Result, bool) {
		return Result{Student: s, StudentID: s.ID, Strategy: strategy, Confidence: confidence, SourceID: source}, true
	}

	if id.DistrictID != "" {
		if s, ok := m.index.ByDistrictID(id.DistrictID); ok {
			return result(s, StrategyDistrictID, ConfidenceDistrictID)
		}
	}
	if id.StateID != "" {
		if s, ok := m.index.ByStateID(id.StateID); ok {
			return result(s, StrategyStateID, ConfidenceStateID)
		}
	}

	key := id.NameKey()
	if key == "" {
		return Result{SourceID: source}, false
	}
	if candidates := m.index.ByName(key); len(candidates) > 0 {
		if len(candidates) == 1 {
			return result(candidates[0], StrategyNameExact, ConfidenceNameExact)
		}
		if id.Grade != "" {
			var hit *roster.Student
			hits := 0
			for i := range candidates {
				if roster.NormalizeGrade(candidates[i].Grade) == id.Grade {
					hits++
					hit = &candidates[i]
				}
			}
			if hits == 1 {
				return result(*hit, StrategyNameExactDisambiguated, ConfidenceDisambiguated)
			}
		}
		// Best effort: the first roster entry wins at reduced confidence.
		return result(candidates[0], StrategyNameExactAmbiguous, ConfidenceAmbiguous)
	}

	bestKey, best := "", 0.0
	for _, candidate := range m.index.NameKeys() {
		if sim := Similarity(key, candidate); sim > best {
			bestKey, best = candidate, sim
		}
	}
	if best > m.fuzzyThreshold {
		return result(m.index.ByName(bestKey)[0], StrategyNameFuzzy, int(math.Round(best*FuzzyWeight)))
	}
	return Result{SourceID: source}, false
}
