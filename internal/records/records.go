// Package records defines the canonical per-dataset records produced by an
// import.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mjhen/rosterbridge/internal/match"
	"github.com/mjhen/rosterbridge/internal/normalize"
)

// DatasetType names one family of source exports. A reimport of a dataset
// type replaces every record of that type.
type DatasetType string

const (
	Attendance DatasetType = "attendance"
	Grades     DatasetType = "grades"
	Assessment DatasetType = "assessment"
	Discipline DatasetType = "discipline"
)

var ErrUnknownDataset = errors.New("unknown dataset type")

// DatasetTypes lists the supported dataset types in detection order, most
// specific header first. Attendance goes last: a bare status column is
// enough to recognize it, and discipline or grade exports often carry one.
func DatasetTypes() []DatasetType {
	return []DatasetType{Assessment, Discipline, Grades, Attendance}
}

// ParseDatasetType accepts the canonical names plus a few common plurals.
func ParseDatasetType(value string) (DatasetType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "attendance":
		return Attendance, nil
	case "grades", "grade", "gradebook":
		return Grades, nil
	case "assessment", "assessments", "test", "tests":
		return Assessment, nil
	case "discipline", "incidents", "behavior":
		return Discipline, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataset, value)
}

// Record is implemented by every canonical record variant.
type Record interface {
	Dataset() DatasetType
	Meta() *Base
}

// Base carries the identity and provenance fields shared by every record.
type Base struct {
	StudentID         string         `json:"studentId"`
	MatchedBy         match.Strategy `json:"matchedBy"`
	MatchConfidence   int            `json:"matchConfidence"`
	OriginalStudentID string         `json:"originalStudentId"`
	SourceFile        string         `json:"sourceFile,omitempty"`
	SourceRow         int            `json:"sourceRow,omitempty"`
}

func (b *Base) Meta() *Base { return b }

// NewBase fills the identity fields from a match result.
func NewBase(res match.Result, sourceFile string, sourceRow int) Base {
	return Base{
		StudentID:         res.StudentID,
		MatchedBy:         res.Strategy,
		MatchConfidence:   res.Confidence,
		OriginalStudentID: res.SourceID,
		SourceFile:        sourceFile,
		SourceRow:         sourceRow,
	}
}

type AttendanceRecord struct {
	Base
	Date   string                     `json:"date"`
	Status normalize.AttendanceStatus `json:"status"`
	Code   string                     `json:"code"`
}

func (*AttendanceRecord) Dataset() DatasetType { return Attendance }

type GradeRecord struct {
	Base
	Course      string   `json:"course"`
	Section     string   `json:"section,omitempty"`
	Teacher     string   `json:"teacher,omitempty"`
	Term        string   `json:"term,omitempty"`
	Percent     *float64 `json:"percent,omitempty"`
	LetterGrade string   `json:"letterGrade"`
}

func (*GradeRecord) Dataset() DatasetType { return Grades }

// AssessmentRecord is one score. Benchmark is empty for the overall result
// and names the reporting category for per-benchmark breakdown rows.
type AssessmentRecord struct {
	Base
	TestName         string                `json:"testName"`
	Subject          string                `json:"subject,omitempty"`
	TestDate         string                `json:"testDate,omitempty"`
	Benchmark        string                `json:"benchmark,omitempty"`
	Score            *float64              `json:"score,omitempty"`
	AchievementLevel string                `json:"achievementLevel,omitempty"`
	Proficiency      normalize.Proficiency `json:"proficiency,omitempty"`
	Percentile       *float64              `json:"percentile,omitempty"`
}

func (*AssessmentRecord) Dataset() DatasetType { return Assessment }

type DisciplineRecord struct {
	Base
	IncidentID   string   `json:"incidentId,omitempty"`
	IncidentDate string   `json:"incidentDate"`
	IncidentType string   `json:"incidentType"`
	Action       string   `json:"action,omitempty"`
	Days         *float64 `json:"days,omitempty"`
	Description  string   `json:"description,omitempty"`
}

func (*DisciplineRecord) Dataset() DatasetType { return Discipline }

// Stored is a record as persisted: the shared columns plus the variant
// encoded as JSON.
type Stored struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"runId"`
	DatasetType DatasetType     `json:"datasetType"`
	StudentID   string          `json:"studentId"`
	RecordDate  string          `json:"recordDate,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// RecordDate returns the calendar date a record is about, if it has one.
func RecordDate(r Record) string {
	switch v := r.(type) {
	case *AttendanceRecord:
		return v.Date
	case *AssessmentRecord:
		return v.TestDate
	case *DisciplineRecord:
		return v.IncidentDate
	}
	return ""
}

// New returns an empty record of the given type, ready to be unmarshaled
// into.
func New(dataset DatasetType) (Record, error) {
	switch dataset {
	case Attendance:
		return &AttendanceRecord{}, nil
	case Grades:
		return &GradeRecord{}, nil
	case Assessment:
		return &AssessmentRecord{}, nil
	case Discipline:
		return &DisciplineRecord{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, dataset)
}

// Decode turns a stored payload back into its record variant.
func (s Stored) Decode() (Record, error) {
	r, err := New(s.DatasetType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(s.Payload, r); err != nil {
		return nil, fmt.Errorf("decode %s record %d: %w", s.DatasetType, s.ID, err)
	}
	return r, nil
}
