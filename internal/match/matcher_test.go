package match

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/roster"
)

func testRoster() []roster.Student {
	return []roster.Student{
		{ID: "ann", DistrictID: "12345678", StateID: "FL000000000001", FirstName: "Ann", LastName: "Lee", Grade: "5"},
		{ID: "jane", DistrictID: "22222222", FirstName: "Jane", LastName: "O'Brien", Grade: "3"},
		{ID: "sam5", DistrictID: "33333333", FirstName: "Sam", LastName: "Cruz", Grade: "5"},
		{ID: "sam6", DistrictID: "44444444", FirstName: "Sam", LastName: "Cruz", Grade: "06"},
		{ID: "christopher", FirstName: "Christopher", LastName: "Johnson", Grade: "4"},
	}
}

func newMatcher(opts ...Option) *Matcher {
	return New(roster.Build(testRoster()), fields.Default().Table("attendance"), opts...)
}

func TestDistrictIDAlwaysWins(t *testing.T) {
	m := newMatcher()
	// Name fields point at other students; the id must still win.
	for _, name := range []string{"", "Cruz, Sam", "Jane O'Brien", "Nobody Atall"} {
		res, ok := m.Resolve(map[string]string{"Student ID": "12345678", "Student Name": name}, nil)
		require.True(t, ok, name)
		assert.Equal(t, "ann", res.StudentID)
		assert.Equal(t, StrategyDistrictID, res.Strategy)
		assert.Equal(t, 100, res.Confidence)
		assert.Equal(t, "12345678", res.SourceID)
	}
}

func TestStateIDTier(t *testing.T) {
	m := newMatcher()
	res, ok := m.Resolve(map[string]string{"FLEID": "FL000000000001", "Student Name": "Cruz, Sam"}, nil)
	require.True(t, ok)
	assert.Equal(t, StrategyStateID, res.Strategy)
	assert.Equal(t, 95, res.Confidence)
	assert.Equal(t, "ann", res.StudentID)

	// An unknown district id falls through to the state id.
	res, ok = m.Resolve(map[string]string{"Student ID": "99999999", "FL ID": "FL000000000001"}, nil)
	require.True(t, ok)
	assert.Equal(t, StrategyStateID, res.Strategy)
}

func TestMalformedIDsAreIgnored(t *testing.T) {
	m := newMatcher()
	res, ok := m.Resolve(map[string]string{"Student ID": "1234567", "State ID": "GA000000000001", "Student": "Lee, Ann"}, nil)
	require.True(t, ok)
	assert.Equal(t, StrategyNameExact, res.Strategy)
	assert.Equal(t, "1234567", res.SourceID, "raw id kept for audit")
}

func TestNameExact(t *testing.T) {
	m := newMatcher()
	rows := []map[string]string{
		{"Student": "Lee, Ann"},
		{"Student Name": "Ann Lee"},
		{"First Name": "ANN", "Last Name": "lee"},
		{"Name": "O'Brien, Jane"},
		{"Name": "jane obrien"},
	}
	for _, row := range rows {
		res, ok := m.Resolve(row, nil)
		require.True(t, ok, fmt.Sprint(row))
		assert.Equal(t, StrategyNameExact, res.Strategy, fmt.Sprint(row))
		assert.Equal(t, 85, res.Confidence)
	}
}

func TestNameDisambiguatedByGrade(t *testing.T) {
	m := newMatcher()
	res, ok := m.Resolve(map[string]string{"Student": "Cruz, Sam", "Grade": "6"}, nil)
	require.True(t, ok)
	assert.Equal(t, "sam6", res.StudentID)
	assert.Equal(t, StrategyNameExactDisambiguated, res.Strategy)
	assert.Equal(t, 80, res.Confidence)
}

func TestNameAmbiguousTakesFirst(t *testing.T) {
	m := newMatcher()
	for _, row := range []map[string]string{
		{"Student": "Cruz, Sam"},
		{"Student": "Cruz, Sam", "Grade": "9"},
	} {
		res, ok := m.Resolve(row, nil)
		require.True(t, ok)
		assert.Equal(t, "sam5", res.StudentID)
		assert.Equal(t, StrategyNameExactAmbiguous, res.Strategy)
		assert.Equal(t, 70, res.Confidence)
	}
}

func TestFuzzyName(t *testing.T) {
	m := newMatcher()
	// "johnson_christophr" vs "johnson_christopher": one missing letter at
	// the end keeps every earlier position aligned.
	res, ok := m.Resolve(map[string]string{"Student": "Johnson, Christophr"}, nil)
	require.True(t, ok)
	assert.Equal(t, "christopher", res.StudentID)
	assert.Equal(t, StrategyNameFuzzy, res.Strategy)
	sim := Similarity("johnson_christophr", "johnson_christopher")
	assert.Greater(t, sim, 0.85)
	assert.Equal(t, int(sim*70+0.5), res.Confidence)
	assert.LessOrEqual(t, res.Confidence, 70)
}

func TestFuzzyThresholdIsStrict(t *testing.T) {
	m := newMatcher(WithFuzzyThreshold(0.99))
	_, ok := m.Resolve(map[string]string{"Student": "Johnson, Christophr"}, nil)
	assert.False(t, ok)
}

func TestUnmatched(t *testing.T) {
	m := newMatcher()
	res, ok := m.Resolve(map[string]string{"Student": "Nguyen, Bao"}, nil)
	assert.False(t, ok)
	assert.Equal(t, "Nguyen, Bao", res.SourceID)
	assert.Empty(t, res.StudentID)

	_, ok = m.Resolve(map[string]string{"Status": "P"}, nil)
	assert.False(t, ok)
}

func TestTierOrdering(t *testing.T) {
	order := []int{ConfidenceDistrictID, ConfidenceStateID, ConfidenceNameExact, ConfidenceDisambiguated, ConfidenceAmbiguous}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i-1], order[i])
	}
	// A fuzzy score can never exceed the ambiguous tier.
	assert.LessOrEqual(t, FuzzyWeight, ConfidenceAmbiguous)
}

func TestExtractIdentity(t *testing.T) {
	m := newMatcher(WithStatePrefix("fl"))
	id := m.Extract(map[string]string{
		"Student ID": `12345678`,
		"FLEID":      "fl000000000001",
		"Student":    "Lee, Ann",
		"Grade":      "05",
	}, nil)
	assert.Equal(t, "12345678", id.DistrictID)
	assert.Equal(t, "FL000000000001", id.StateID)
	assert.Equal(t, "Ann", id.FirstName)
	assert.Equal(t, "Lee", id.LastName)
	assert.Equal(t, "5", id.Grade)
	assert.False(t, id.Empty())

	assert.True(t, m.Extract(map[string]string{"Status": "P"}, nil).Empty())
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("lee_ann", "lee_ann"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 0.75, Similarity("abcd", "abcx"), 1e-9)
	// Positional: a single leading insertion destroys the overlap.
	assert.Less(t, Similarity("xlee_ann", "lee_ann"), 0.5)
	assert.Equal(t, Similarity("ab", "abcd"), Similarity("abcd", "ab"))
}

func TestLowercaseStateIDMatches(t *testing.T) {
	m := newMatcher()
	res, ok := m.Resolve(map[string]string{"FLEID": "fl000000000001"}, nil)
	require.True(t, ok)
	assert.Equal(t, "ann", res.StudentID)
	assert.Equal(t, StrategyStateID, res.Strategy)
}

func TestIncidentNumberIsNotAStudentID(t *testing.T) {
	students := append(testRoster(), roster.Student{ID: "bob", DistrictID: "20240001", FirstName: "Bob", LastName: "Ray"})
	m := New(roster.Build(students), fields.Default().Table("discipline"))

	for _, studentID := range []string{"", "1234"} {
		res, ok := m.Resolve(map[string]string{
			"Student ID":   studentID,
			"Student Name": "Lee, Ann",
			"Incident ID":  "20240001",
		}, []string{"Student ID", "Student Name", "Incident ID"})
		require.True(t, ok, studentID)
		assert.Equal(t, "ann", res.StudentID)
		assert.Equal(t, StrategyNameExact, res.Strategy)
	}

	id := m.Extract(map[string]string{"Referral ID": "20240001", "Student": "Lee, Ann"}, nil)
	assert.Empty(t, id.DistrictID)
}

func TestLetterGradeIsNotAGradeLevel(t *testing.T) {
	m := New(roster.Build(testRoster()), fields.Default().Table("grades"))
	headers := []string{"Student", "Course", "Grade", "Student Grade Level"}
	row := map[string]string{"Student": "Cruz, Sam", "Course": "Math", "Grade": "B", "Student Grade Level": "6"}

	id := m.Extract(row, headers)
	assert.Equal(t, "6", id.Grade)
	res, ok := m.Resolve(row, headers)
	require.True(t, ok)
	assert.Equal(t, "sam6", res.StudentID)
	assert.Equal(t, StrategyNameExactDisambiguated, res.Strategy)

	// With only a letter grade there is nothing to disambiguate with.
	res, ok = m.Resolve(map[string]string{"Student": "Cruz, Sam", "Course": "Math", "Grade": "B"}, nil)
	require.True(t, ok)
	assert.Equal(t, StrategyNameExactAmbiguous, res.Strategy)
	assert.Equal(t, "sam5", res.StudentID)
}
