package roster

import (
	"fmt"
	"sort"
	"strings"
)

// Index is the lookup structure built from one roster snapshot. It is never
// mutated after Build returns, so it may be shared by concurrent readers.
// When the roster changes the caller builds a new one.
type Index struct {
	byDistrict map[string]Student
	byState    map[string]Student
	byName     map[string][]Student
	nameKeys   []string
	size       int

	// Warnings lists data-quality problems found while building, such as
	// two students sharing a district id.
	Warnings []string
}

// Build indexes students. Duplicate district or state ids keep the last
// student and add a warning; the build itself never fails.
func Build(students []Student) *Index {
	idx := &Index{
		byDistrict: make(map[string]Student, len(students)),
		byState:    make(map[string]Student, len(students)),
		byName:     make(map[string][]Student, len(students)),
		size:       len(students),
	}
	for _, s := range students {
		if s.DistrictID != "" {
			if prev, ok := idx.byDistrict[s.DistrictID]; ok && prev.ID != s.ID {
				idx.Warnings = append(idx.Warnings,
					fmt.Sprintf("duplicate district id %s: student %s replaces %s", s.DistrictID, s.ID, prev.ID))
			}
			idx.byDistrict[s.DistrictID] = s
		}
		if s.StateID != "" {
			key := strings.ToUpper(s.StateID)
			if prev, ok := idx.byState[key]; ok && prev.ID != s.ID {
				idx.Warnings = append(idx.Warnings,
					fmt.Sprintf("duplicate state id %s: student %s replaces %s", key, s.ID, prev.ID))
			}
			idx.byState[key] = s
		}
		if key := s.NameKey(); key != "" {
			idx.byName[key] = append(idx.byName[key], s)
		}
	}
	idx.nameKeys = make([]string, 0, len(idx.byName))
	for key := range idx.byName {
		idx.nameKeys = append(idx.nameKeys, key)
	}
	sort.Strings(idx.nameKeys)
	return idx
}

// Len is the number of students the index was built from.
func (i *Index) Len() int {
	return i.size
}

func (i *Index) ByDistrictID(id string) (Student, bool) {
	s, ok := i.byDistrict[id]
	return s, ok
}

// ByStateID looks id up without regard to letter case.
func (i *Index) ByStateID(id string) (Student, bool) {
	s, ok := i.byState[strings.ToUpper(id)]
	return s, ok
}

// ByName returns the students sharing key in roster order. The slice must
// not be modified.
func (i *Index) ByName(key string) []Student {
	return i.byName[key]
}

// NameKeys returns every indexed name key in sorted order.
func (i *Index) NameKeys() []string {
	return i.nameKeys
}

// Stats summarizes an index for logs and API responses.
type Stats struct {
	Students    int      `json:"students"`
	DistrictIDs int      `json:"districtIds"`
	StateIDs    int      `json:"stateIds"`
	NameKeys    int      `json:"nameKeys"`
	Warnings    []string `json:"warnings"`
}

func (i *Index) Stats() Stats {
	return Stats{
		Students:    i.size,
		DistrictIDs: len(i.byDistrict),
		StateIDs:    len(i.byState),
		NameKeys:    len(i.byName),
		Warnings:    append([]string(nil), i.Warnings...),
	}
}
