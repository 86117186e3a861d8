package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mjhen/rosterbridge/internal/db"
	"github.com/mjhen/rosterbridge/internal/records"
	"github.com/mjhen/rosterbridge/internal/roster"
)

// SQL is the database-backed store for both Postgres and SQLite.
type SQL struct {
	db      *sql.DB
	dialect db.Dialect
}

func NewSQL(database *sql.DB, dialect db.Dialect) *SQL {
	return &SQL{db: database, dialect: dialect}
}

func (s *SQL) q(query string) string {
	return db.Rebind(s.dialect, query)
}

func (s *SQL) ListStudents(ctx context.Context) ([]roster.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(district_id, ''), COALESCE(state_id, ''), first_name, last_name, grade, homeroom
		FROM students
		ORDER BY roster_position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []roster.Student
	for rows.Next() {
		var st roster.Student
		if err := rows.Scan(&st.ID, &st.DistrictID, &st.StateID, &st.FirstName, &st.LastName, &st.Grade, &st.Homeroom); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}

// ReplaceStudents swaps the whole roster. Records already stored keep their
// student ids, so ids should be stable across roster loads.
func (s *SQL) ReplaceStudents(ctx context.Context, actor string, students []roster.Student) error {
	if _, err := roster.Validate(students, ""); err != nil {
		return wrapInvalid(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin roster tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM students`); err != nil {
		return fmt.Errorf("clear students: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO students (id, roster_position, district_id, state_id, first_name, last_name, grade, homeroom)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`))
	if err != nil {
		return fmt.Errorf("prepare student insert: %w", err)
	}
	defer stmt.Close()

	for i, st := range students {
		if _, err := stmt.ExecContext(ctx,
			strings.TrimSpace(st.ID), i, nullable(st.DistrictID), nullable(st.StateID),
			st.FirstName, st.LastName, st.Grade, st.Homeroom,
		); err != nil {
			return fmt.Errorf("insert student %s: %w", st.ID, err)
		}
	}

	if err := db.AppendAuditEvent(ctx, tx, s.dialect, actor, "roster.replace", "roster", "", map[string]any{
		"students": len(students),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster tx: %w", err)
	}
	return nil
}

// ReplaceRecords deletes every record of run.DatasetType, stores run and
// inserts batch, all in one transaction.
func (s *SQL) ReplaceRecords(ctx context.Context, run ImportRun, batch []records.Record) (ReplaceResult, error) {
	prepared, err := prepareBatch(&run, batch)
	if err != nil {
		return ReplaceResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback()

	var result ReplaceResult
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM student_records WHERE dataset_type = $1`), string(run.DatasetType))
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("clear %s records: %w", run.DatasetType, err)
	}
	if result.Deleted, err = res.RowsAffected(); err != nil {
		return ReplaceResult{}, fmt.Errorf("count cleared records: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO import_runs (id, dataset_type, file_name, digest, actor, record_count, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), run.ID, string(run.DatasetType), run.FileName, run.Digest, run.Actor, run.RecordCount, string(run.Report), run.CreatedAt); err != nil {
		return ReplaceResult{}, fmt.Errorf("insert import run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO student_records (run_id, dataset_type, student_id, record_date, payload)
		VALUES ($1, $2, $3, $4, $5)
	`))
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range prepared {
		if _, err := stmt.ExecContext(ctx, run.ID, string(run.DatasetType), rec.studentID, nullable(rec.recordDate), string(rec.payload)); err != nil {
			return ReplaceResult{}, fmt.Errorf("insert record %d: %w", i, err)
		}
		result.Inserted++
	}

	if err := db.AppendAuditEvent(ctx, tx, s.dialect, run.Actor, "import.replace", "import_run", run.ID, map[string]any{
		"datasetType": run.DatasetType,
		"fileName":    run.FileName,
		"digest":      run.Digest,
		"deleted":     result.Deleted,
		"inserted":    result.Inserted,
	}); err != nil {
		return ReplaceResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReplaceResult{}, fmt.Errorf("commit replace tx: %w", err)
	}
	return result, nil
}

const importRunColumns = `id, dataset_type, file_name, digest, actor, record_count, report, created_at`

func (s *SQL) ListImportRuns(ctx context.Context, limit int) ([]ImportRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+importRunColumns+`
		FROM import_runs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var out []ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import runs: %w", err)
	}
	return out, nil
}

func (s *SQL) GetImportRun(ctx context.Context, id string) (ImportRun, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ImportRun{}, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+importRunColumns+` FROM import_runs WHERE id = $1`), id)
	run, err := scanImportRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ImportRun{}, ErrNotFound
	}
	return run, err
}

// ListStudentRecords returns a student's records, optionally limited to one
// dataset type, ordered by type and date.
func (s *SQL) ListStudentRecords(ctx context.Context, studentID string, dataset records.DatasetType) ([]records.Stored, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, ErrInvalidInput
	}
	query := `
		SELECT id, run_id, dataset_type, student_id, COALESCE(record_date, ''), payload
		FROM student_records
		WHERE student_id = $1`
	args := []any{studentID}
	if dataset != "" {
		query += ` AND dataset_type = $2`
		args = append(args, string(dataset))
	}
	query += ` ORDER BY dataset_type ASC, record_date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list student records: %w", err)
	}
	defer rows.Close()

	var out []records.Stored
	for rows.Next() {
		var (
			rec     records.Stored
			kind    string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &kind, &rec.StudentID, &rec.RecordDate, &payload); err != nil {
			return nil, fmt.Errorf("scan student record: %w", err)
		}
		rec.DatasetType = records.DatasetType(kind)
		rec.Payload = payload
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student records: %w", err)
	}
	return out, nil
}

func (s *SQL) CountRecords(ctx context.Context, dataset records.DatasetType) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM student_records WHERE dataset_type = $1`), string(dataset)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s records: %w", dataset, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImportRun(row rowScanner) (ImportRun, error) {
	var (
		run        ImportRun
		dataset    string
		report     string
		rawCreated any
	)
	if err := row.Scan(&run.ID, &dataset, &run.FileName, &run.Digest, &run.Actor, &run.RecordCount, &report, &rawCreated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ImportRun{}, err
		}
		return ImportRun{}, fmt.Errorf("scan import run: %w", err)
	}
	createdAt, err := db.ParseTime(rawCreated)
	if err != nil {
		return ImportRun{}, fmt.Errorf("import run %s: %w", run.ID, err)
	}
	run.DatasetType = records.DatasetType(dataset)
	run.Report = []byte(report)
	run.CreatedAt = createdAt
	return run, nil
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
