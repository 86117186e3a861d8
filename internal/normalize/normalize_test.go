package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderDateSchoolYearBoundary(t *testing.T) {
	for _, year := range []int{2023, 2024, 2025} {
		d, ok := HeaderDate("8/15", year)
		require.True(t, ok)
		assert.Equal(t, time.Date(year, 8, 15, 0, 0, 0, 0, time.UTC), d)

		d, ok = HeaderDate("1/15", year)
		require.True(t, ok)
		assert.Equal(t, time.Date(year+1, 1, 15, 0, 0, 0, 0, time.UTC), d)

		d, ok = HeaderDate("7/31", year)
		require.True(t, ok)
		assert.Equal(t, year+1, d.Year())
	}
}

func TestHeaderDateRejects(t *testing.T) {
	for _, h := range []string{"Student ID", "8/15/2024", "2024-08-15", "13/01", "0/10", "2/30", "8/", "/15", "8-15"} {
		_, ok := HeaderDate(h, 2024)
		assert.False(t, ok, h)
	}
	d, ok := HeaderDate(`="09/03"`, 2024)
	require.True(t, ok, "formula-wrapped headers are cleaned first")
	assert.Equal(t, "2024-09-03", FormatDate(d))

	d, ok = HeaderDate("2/29", 2023)
	require.True(t, ok, "February 2024 is a leap month")
	assert.Equal(t, "2024-02-29", FormatDate(d))
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"2024-09-03":          "2024-09-03",
		"2024/09/03":          "2024-09-03",
		"09/03/2024":          "2024-09-03",
		"9/3/2024":            "2024-09-03",
		"9/3/24":              "2024-09-03",
		"09-03-2024":          "2024-09-03",
		"2024-09-03 13:45:00": "2024-09-03",
		"2024-09-03T13:45:00": "2024-09-03",
		"Sep 3, 2024":         "2024-09-03",
		"3-Sep-2024":          "2024-09-03",
		"45538":               "2024-09-03",
		`="2024-09-03"`:       "2024-09-03",
	}
	for in, want := range cases {
		d, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, want, FormatDate(d), in)
	}
	for _, in := range []string{"", "soon", "-3", "13/45/2024"} {
		_, ok := ParseDate(in)
		assert.False(t, ok, in)
	}
}

func TestAttendanceCodes(t *testing.T) {
	cases := map[string]AttendanceStatus{
		"P": Present, "p": Present, "present": Present,
		"A": Absent, "U": Absent, "E": Absent, "abs": Absent,
		"T": Tardy, "L": Tardy, "TU": Tardy, "late": Tardy,
		"ED": EarlyDismissal, "D": EarlyDismissal, "Early  Dismissal": EarlyDismissal,
	}
	for code, want := range cases {
		assert.Equal(t, want, Attendance(code), code)
	}
}

func TestUnknownAttendanceCodeAssumesPresent(t *testing.T) {
	for _, code := range []string{"Q", "??", "field trip", "7"} {
		status, known := LookupAttendance(code)
		assert.Equal(t, Present, status, code)
		assert.False(t, known, code)
	}
}

func TestProficiencyFromLevel(t *testing.T) {
	cases := map[string]Proficiency{
		"1":                    Below,
		"Level 1":              Below,
		"Inadequate":           Below,
		"Below Grade Level":    Below,
		"Not Met":              Below,
		"Not Proficient":       Below,
		"2":                    Approaching,
		"Below Satisfactory":   Approaching,
		"Partially Meets":      Approaching,
		"Approaching":          Approaching,
		"3":                    Meets,
		"Level 3 - On Track":   Meets,
		"Satisfactory":         Meets,
		"Proficient":           Meets,
		"4":                    Exceeds,
		"Level 5":              Exceeds,
		"Mastery":              Exceeds,
		"Advanced":             Exceeds,
		"Exceeds Expectations": Exceeds,
	}
	for in, want := range cases {
		got, ok := ProficiencyFromLevel(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ProficiencyFromLevel("")
	assert.False(t, ok)
	_, ok = ProficiencyFromLevel("n/a")
	assert.False(t, ok)
}

func TestProficiencyRankIsOrdered(t *testing.T) {
	scale := []Proficiency{Below, Approaching, Meets, Exceeds}
	for i := 1; i < len(scale); i++ {
		assert.Less(t, scale[i-1].Rank(), scale[i].Rank())
	}
	assert.Zero(t, Proficiency("other").Rank())
}

func TestPlaceholders(t *testing.T) {
	for _, v := range []string{"", " ", "-", "*", "--", "N/A"} {
		assert.True(t, IsPlaceholder(v), v)
	}
	for _, v := range []string{"P", "0", "A"} {
		assert.False(t, IsPlaceholder(v), v)
	}
}

func TestNumbersAndLetters(t *testing.T) {
	n, err := ParseNumber(" 1,234.5 ")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, n)
	n, err = ParseNumber("87%")
	require.NoError(t, err)
	assert.Equal(t, 87.0, n)
	_, err = ParseNumber("abc")
	assert.Error(t, err)
	_, err = ParseNumber("")
	assert.Error(t, err)

	assert.Equal(t, "A", LetterFromPercent(90))
	assert.Equal(t, "B", LetterFromPercent(89.9))
	assert.Equal(t, "C", LetterFromPercent(70))
	assert.Equal(t, "D", LetterFromPercent(60))
	assert.Equal(t, "F", LetterFromPercent(59.99))

	assert.Equal(t, "B+", NormalizeLetter("b+"))
	assert.Equal(t, "A", NormalizeLetter(" A "))
	assert.Equal(t, "", NormalizeLetter("AB"))
	assert.Equal(t, "", NormalizeLetter("92"))
}
