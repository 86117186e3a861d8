// Package store persists the roster, import runs and canonical records.
// Every import replaces all records of its dataset type in one transaction.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mjhen/rosterbridge/internal/records"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// ImportRun is the persisted summary of one import. Report holds the
// import report as produced by the orchestrator.
type ImportRun struct {
	ID          string              `json:"id"`
	DatasetType records.DatasetType `json:"datasetType"`
	FileName    string              `json:"fileName"`
	Digest      string              `json:"digest"`
	Actor       string              `json:"actor,omitempty"`
	RecordCount int                 `json:"recordCount"`
	Report      json.RawMessage     `json:"report"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// ReplaceResult tells how many records a replace removed and wrote.
type ReplaceResult struct {
	Deleted  int64 `json:"deleted"`
	Inserted int64 `json:"inserted"`
}

type preparedRecord struct {
	studentID  string
	recordDate string
	payload    []byte
}

// prepareBatch validates a replace request and encodes every record.
func prepareBatch(run *ImportRun, batch []records.Record) ([]preparedRecord, error) {
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return nil, fmt.Errorf("%w: import run id is required", ErrInvalidInput)
	}
	if _, err := records.New(run.DatasetType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(run.Report) == 0 {
		run.Report = json.RawMessage("{}")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.CreatedAt = run.CreatedAt.UTC().Truncate(time.Microsecond)
	run.RecordCount = len(batch)

	out := make([]preparedRecord, 0, len(batch))
	for i, rec := range batch {
		if rec.Dataset() != run.DatasetType {
			return nil, fmt.Errorf("%w: record %d is %s, run is %s", ErrInvalidInput, i, rec.Dataset(), run.DatasetType)
		}
		meta := rec.Meta()
		if meta.StudentID == "" {
			return nil, fmt.Errorf("%w: record %d has no student", ErrInvalidInput, i)
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i, err)
		}
		out = append(out, preparedRecord{
			studentID:  meta.StudentID,
			recordDate: records.RecordDate(rec),
			payload:    payload,
		})
	}
	return out, nil
}

func wrapInvalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func errDuplicateRun(id string) error {
	return fmt.Errorf("import run %s already exists", id)
}
