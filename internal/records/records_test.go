package records

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjhen/rosterbridge/internal/match"
	"github.com/mjhen/rosterbridge/internal/normalize"
)

func TestParseDatasetType(t *testing.T) {
	for in, want := range map[string]DatasetType{
		"attendance": Attendance, " Grades ": Grades, "gradebook": Grades,
		"tests": Assessment, "incidents": Discipline,
	} {
		got, err := ParseDatasetType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseDatasetType("lunch")
	require.ErrorIs(t, err, ErrUnknownDataset)
}

func TestStoredDecode(t *testing.T) {
	score := 312.0
	in := &AssessmentRecord{
		Base: NewBase(match.Result{
			StudentID: "s1", Strategy: match.StrategyStateID, Confidence: 95, SourceID: "FL000000000001",
		}, "fast.csv", 4),
		TestName:    "FAST ELA",
		Score:       &score,
		Proficiency: normalize.Meets,
	}
	payload, err := json.Marshal(in)
	require.NoError(t, err)

	stored := Stored{DatasetType: Assessment, StudentID: "s1", Payload: payload}
	out, err := stored.Decode()
	require.NoError(t, err)
	if diff := cmp.Diff(Record(in), out); diff != "" {
		t.Fatalf("decoded record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "FL000000000001", out.Meta().OriginalStudentID)

	_, err = Stored{DatasetType: "lunch"}.Decode()
	require.ErrorIs(t, err, ErrUnknownDataset)
}

func TestRecordDate(t *testing.T) {
	assert.Equal(t, "2024-09-03", RecordDate(&AttendanceRecord{Date: "2024-09-03"}))
	assert.Equal(t, "", RecordDate(&GradeRecord{}))
}
