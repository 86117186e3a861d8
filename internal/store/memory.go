package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mjhen/rosterbridge/internal/records"
	"github.com/mjhen/rosterbridge/internal/roster"
)

// Memory is an in-process store with the same replace semantics as SQL.
// It backs tests and dry runs.
type Memory struct {
	mu       sync.RWMutex
	students []roster.Student
	runs     []ImportRun
	records  []records.Stored
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ListStudents(context.Context) ([]roster.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]roster.Student(nil), m.students...), nil
}

func (m *Memory) ReplaceStudents(_ context.Context, _ string, students []roster.Student) error {
	if _, err := roster.Validate(students, ""); err != nil {
		return wrapInvalid(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append([]roster.Student(nil), students...)
	return nil
}

func (m *Memory) ReplaceRecords(_ context.Context, run ImportRun, batch []records.Record) (ReplaceResult, error) {
	prepared, err := prepareBatch(&run, batch)
	if err != nil {
		return ReplaceResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.ID == run.ID {
			return ReplaceResult{}, wrapInvalid(errDuplicateRun(run.ID))
		}
	}

	var result ReplaceResult
	kept := m.records[:0]
	for _, rec := range m.records {
		if rec.DatasetType == run.DatasetType {
			result.Deleted++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	for _, rec := range prepared {
		m.nextID++
		m.records = append(m.records, records.Stored{
			ID:          m.nextID,
			RunID:       run.ID,
			DatasetType: run.DatasetType,
			StudentID:   rec.studentID,
			RecordDate:  rec.recordDate,
			Payload:     rec.payload,
		})
		result.Inserted++
	}
	m.runs = append(m.runs, run)
	return result, nil
}

func (m *Memory) ListImportRuns(_ context.Context, limit int) ([]ImportRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ImportRun, 0, min(limit, len(m.runs)))
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) GetImportRun(_ context.Context, id string) (ImportRun, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ImportRun{}, ErrInvalidInput
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return ImportRun{}, ErrNotFound
}

func (m *Memory) ListStudentRecords(_ context.Context, studentID string, dataset records.DatasetType) ([]records.Stored, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, ErrInvalidInput
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []records.Stored
	for _, rec := range m.records {
		if rec.StudentID == studentID && (dataset == "" || rec.DatasetType == dataset) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DatasetType != out[j].DatasetType {
			return out[i].DatasetType < out[j].DatasetType
		}
		if out[i].RecordDate != out[j].RecordDate {
			return out[i].RecordDate < out[j].RecordDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CountRecords(_ context.Context, dataset records.DatasetType) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if rec.DatasetType == dataset {
			n++
		}
	}
	return n, nil
}
