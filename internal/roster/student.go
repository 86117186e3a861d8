// Package roster holds the canonical student roster and the read-only index
// the matcher resolves rows against.
package roster

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultStatePrefix is the two-letter prefix carried by state identifiers.
const DefaultStatePrefix = "FL"

const (
	districtIDLength = 8
	stateIDLength    = 14
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Student is one canonical roster entry. ID is opaque and never changes once
// assigned; DistrictID and StateID are optional external identifiers.
type Student struct {
	ID         string `json:"id"`
	DistrictID string `json:"districtId,omitempty"`
	StateID    string `json:"stateId,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Grade      string `json:"grade"`
	Homeroom   string `json:"homeroom,omitempty"`
}

// DisplayName renders "Last, First".
func (s Student) DisplayName() string {
	switch {
	case s.LastName == "":
		return s.FirstName
	case s.FirstName == "":
		return s.LastName
	}
	return s.LastName + ", " + s.FirstName
}

// NameKey is the index key for the student's name.
func (s Student) NameKey() string {
	return NameKey(s.FirstName, s.LastName)
}

// ValidDistrictID reports whether v is exactly eight ASCII digits.
func ValidDistrictID(v string) bool {
	if len(v) != districtIDLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}

// ValidStateID reports whether v starts with prefix (case-insensitive) and
// is fourteen ASCII letters or digits long.
func ValidStateID(v, prefix string) bool {
	if prefix == "" {
		prefix = DefaultStatePrefix
	}
	if len(v) != stateIDLength || !strings.HasPrefix(strings.ToUpper(v), strings.ToUpper(prefix)) {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// Validate checks a roster snapshot before it is stored. Missing or repeated
// canonical ids and repeated district or state ids are errors. Malformed
// external ids and nameless students come back as warnings.
func Validate(students []Student, statePrefix string) (warnings []string, err error) {
	ids := make(map[string]int, len(students))
	district := map[string]int{}
	state := map[string]int{}
	for i, s := range students {
		line := i + 1
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return warnings, fmt.Errorf("%w: student %d has no id", ErrInvalidInput, line)
		}
		if prev, ok := ids[id]; ok {
			return warnings, fmt.Errorf("%w: student id %q repeated at %d and %d", ErrInvalidInput, id, prev, line)
		}
		ids[id] = line

		if s.DistrictID != "" {
			if !ValidDistrictID(s.DistrictID) {
				warnings = append(warnings, fmt.Sprintf("student %s: malformed district id %q", id, s.DistrictID))
			}
			if prev, ok := district[s.DistrictID]; ok {
				return warnings, fmt.Errorf("%w: district id %s repeated at %d and %d", ErrInvalidInput, s.DistrictID, prev, line)
			}
			district[s.DistrictID] = line
		}
		if s.StateID != "" {
			if !ValidStateID(s.StateID, statePrefix) {
				warnings = append(warnings, fmt.Sprintf("student %s: malformed state id %q", id, s.StateID))
			}
			if prev, ok := state[s.StateID]; ok {
				return warnings, fmt.Errorf("%w: state id %s repeated at %d and %d", ErrInvalidInput, s.StateID, prev, line)
			}
			state[s.StateID] = line
		}
		if strings.TrimSpace(s.FirstName) == "" && strings.TrimSpace(s.LastName) == "" {
			warnings = append(warnings, fmt.Sprintf("student %s: no name", id))
		}
	}
	return warnings, nil
}
