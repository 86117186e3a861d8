package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
)

func TestNormalizeNameIsIdempotentAndPunctuationBlind(t *testing.T) {
	inputs := []string{"O'Brien, Jane", "obrien jane", "  José-María ", "Zoë", "", "D'Angelo III"}
	for _, in := range inputs {
		once := NormalizeName(in)
		assert.Equal(t, once, NormalizeName(once), "input %q", in)
	}
	assert.Equal(t, NormalizeName("O'Brien, Jane"), NormalizeName("obrien jane"))
	assert.Equal(t, "josemaria", NormalizeName("José-María"))
	assert.Equal(t, "zoe", NormalizeName("ZOË"))
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "lee_ann", NameKey("Ann", "Lee"))
	assert.Equal(t, "obrien_jane", NameKey("Jane", "O'Brien"))
	assert.Equal(t, "", NameKey("", "123"))
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		in, first, last string
	}{
		{"Lee, Ann", "Ann", "Lee"},
		{"Lee,Ann Marie", "Ann", "Lee"},
		{"Ann Lee", "Ann", "Lee"},
		{"Ann Marie Lee", "Ann", "Lee"},
		{"Lee", "", "Lee"},
		{"  ", "", ""},
	}
	for _, tc := range cases {
		first, last := SplitName(tc.in)
		assert.Equal(t, tc.first, first, tc.in)
		assert.Equal(t, tc.last, last, tc.in)
	}
}

func TestNormalizeGrade(t *testing.T) {
	cases := map[string]string{
		"05": "5", "Grade 5": "5", "5th": "5", "KG": "K", "k": "K",
		"Kindergarten": "K", "00": "K", "PK": "PK", "12": "12", "": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeGrade(in), in)
	}
}

func TestPlausibleName(t *testing.T) {
	assert.True(t, PlausibleName("Lee, Ann"))
	assert.False(t, PlausibleName("12345678"))
	assert.False(t, PlausibleName("FL000000000001"))
	assert.False(t, PlausibleName(" - "))
}

func TestIdentifierFormats(t *testing.T) {
	assert.True(t, ValidDistrictID("12345678"))
	assert.False(t, ValidDistrictID("1234567"))
	assert.False(t, ValidDistrictID("1234567a"))
	assert.False(t, ValidDistrictID("１２３４５６７８"))

	assert.True(t, ValidStateID("FL000012345678", "FL"))
	assert.True(t, ValidStateID("fl00001234567A", ""))
	assert.False(t, ValidStateID("GA000012345678", "FL"))
	assert.False(t, ValidStateID("FL00001234567", "FL"))
	assert.False(t, ValidStateID("FL0000-2345678", "FL"))
}

func TestBuildIndex(t *testing.T) {
	students := []Student{
		{ID: "s1", DistrictID: "12345678", StateID: "FL000000000001", FirstName: "Ann", LastName: "Lee", Grade: "5"},
		{ID: "s2", DistrictID: "87654321", FirstName: "Ann", LastName: "Lee", Grade: "6"},
		{ID: "s3", FirstName: "Bo", LastName: "O'Neil"},
	}
	idx := Build(students)

	s, ok := idx.ByDistrictID("12345678")
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID)
	s, ok = idx.ByStateID("FL000000000001")
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID)
	_, ok = idx.ByStateID("FL000000000002")
	assert.False(t, ok)

	names := idx.ByName("lee_ann")
	require.Len(t, names, 2)
	assert.Equal(t, "s1", names[0].ID)
	assert.Equal(t, "s2", names[1].ID)
	assert.Equal(t, []string{"lee_ann", "oneil_bo"}, idx.NameKeys())
	assert.Empty(t, idx.Warnings)
	assert.Equal(t, 3, idx.Len())
}

func TestBuildDuplicateIDsLastWriteWins(t *testing.T) {
	idx := Build([]Student{
		{ID: "a", DistrictID: "12345678", StateID: "FL000000000001"},
		{ID: "b", DistrictID: "12345678", StateID: "FL000000000001"},
	})
	s, _ := idx.ByDistrictID("12345678")
	assert.Equal(t, "b", s.ID)
	s, _ = idx.ByStateID("FL000000000001")
	assert.Equal(t, "b", s.ID)
	require.Len(t, idx.Warnings, 2)
	assert.Contains(t, idx.Warnings[0], "duplicate district id 12345678")

	stats := idx.Stats()
	assert.Equal(t, 2, stats.Students)
	assert.Equal(t, 1, stats.DistrictIDs)
}

func TestStateIDLookupIgnoresCase(t *testing.T) {
	idx := Build([]Student{
		{ID: "a", StateID: "fl000000000001"},
		{ID: "b", StateID: "FL000000000001"},
	})
	require.Len(t, idx.Warnings, 1, "lower and upper case spell the same id")
	for _, id := range []string{"FL000000000001", "fl000000000001", "Fl000000000001"} {
		s, ok := idx.ByStateID(id)
		require.True(t, ok, id)
		assert.Equal(t, "b", s.ID)
	}
	assert.Equal(t, 1, idx.Stats().StateIDs)
}

func TestValidate(t *testing.T) {
	warnings, err := Validate([]Student{
		{ID: "a", DistrictID: "12345678", FirstName: "Ann"},
		{ID: "b", DistrictID: "1234", StateID: "XX1", LastName: "Lee"},
		{ID: "c"},
	}, "FL")
	require.NoError(t, err)
	assert.Equal(t, []string{
		`student b: malformed district id "1234"`,
		`student b: malformed state id "XX1"`,
		"student c: no name",
	}, warnings)

	_, err = Validate([]Student{
		{ID: "a", DistrictID: "12345678"},
		{ID: "b", DistrictID: "12345678"},
	}, "FL")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = Validate([]Student{
		{ID: "a", StateID: "FL000000000001"},
		{ID: "b", StateID: "FL000000000001"},
	}, "FL")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Validate([]Student{{ID: "a"}, {ID: "a"}}, "")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = Validate([]Student{{ID: " "}}, "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoadGrid(t *testing.T) {
	g := grid.New([][]string{
		{"District Roster Export"},
		{"Student ID", "FLEID", "Last Name", "First Name", "Grade", "Homeroom"},
		{`="12345678"`, "FL000000000001", "Lee", "Ann", "05", "Smith"},
		{"", "", "", "", "", ""},
		{"1234", "", "", "", "3", ""},
		{"", "FL000000000002", "Diaz", "Cruz", "K", "Jones"},
	})
	res, err := LoadGrid(g, fields.Default().Table(Dataset), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.HeaderRow)
	require.Len(t, res.Students, 2)

	ann := res.Students[0]
	assert.Equal(t, "12345678", ann.DistrictID)
	assert.Equal(t, "FL000000000001", ann.StateID)
	assert.Equal(t, "Ann", ann.FirstName)
	assert.Equal(t, "Lee", ann.LastName)
	assert.Equal(t, "5", ann.Grade)
	assert.Equal(t, "Smith", ann.Homeroom)
	assert.Equal(t, "K", res.Students[1].Grade)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "row 5: no student name or identifier", res.Errors[0])

	again, err := LoadGrid(g, fields.Default().Table(Dataset), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, ann.ID, again.Students[0].ID, "derived ids are stable")
	assert.Equal(t, res.Students[1].ID, again.Students[1].ID)
}

func TestLoadGridCombinedNameColumn(t *testing.T) {
	g := grid.New([][]string{
		{"Student ID", "Student Name"},
		{"12345678", "Lee, Ann"},
	})
	res, err := LoadGrid(g, fields.Default().Table(Dataset), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, res.Students, 1)
	assert.Equal(t, "Ann", res.Students[0].FirstName)
	assert.Equal(t, "Lee", res.Students[0].LastName)
}

func TestLoadGridNoHeader(t *testing.T) {
	_, err := LoadGrid(grid.New([][]string{{"a", "b"}}), fields.Default().Table(Dataset), LoadOptions{})
	require.ErrorIs(t, err, grid.ErrNoHeaderFound)
}
