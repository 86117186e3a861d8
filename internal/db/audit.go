package db

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type AuditStore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const auditChainAdvisoryLockKey int64 = 7_311_202_604

// AppendAuditEvent adds one event to the hash-chained audit log. Called
// with a *sql.DB it runs in its own transaction; called with a *sql.Tx it
// joins the caller's.
func AppendAuditEvent(
	ctx context.Context,
	store AuditStore,
	dialect Dialect,
	actor string,
	eventType string,
	entityType string,
	entityID string,
	payload any,
) error {
	if database, ok := store.(*sql.DB); ok {
		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin standalone audit tx: %w", err)
		}
		defer tx.Rollback()

		if err := appendAuditEvent(ctx, tx, dialect, actor, eventType, entityType, entityID, payload); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit standalone audit tx: %w", err)
		}
		return nil
	}
	return appendAuditEvent(ctx, store, dialect, actor, eventType, entityType, entityID, payload)
}

func appendAuditEvent(
	ctx context.Context,
	store AuditStore,
	dialect Dialect,
	actor string,
	eventType string,
	entityType string,
	entityID string,
	payload any,
) error {
	// SQLite serializes writers already.
	if dialect == Postgres {
		if _, err := store.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, auditChainAdvisoryLockKey); err != nil {
			return fmt.Errorf("acquire audit chain lock: %w", err)
		}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	payloadJSON, err = canonicalizeAuditPayload(payloadJSON)
	if err != nil {
		return fmt.Errorf("canonicalize audit payload: %w", err)
	}

	var prevHash []byte
	err = store.QueryRowContext(ctx, `SELECT event_hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load previous audit hash: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		prevHash = nil
	}

	// Postgres keeps microseconds; truncate before hashing so the hash input
	// survives the round trip.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	eventHash := auditHash(createdAt, actor, eventType, entityType, entityID, payloadJSON, prevHash)

	_, err = store.ExecContext(ctx, Rebind(dialect, `
		INSERT INTO audit_log (
			actor,
			event_type,
			entity_type,
			entity_id,
			payload,
			created_at,
			prev_hash,
			event_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), actor, eventType, entityType, entityID, string(payloadJSON), createdAt, prevHash, eventHash)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func auditHash(createdAt time.Time, actor, eventType, entityType, entityID string, payload, prevHash []byte) []byte {
	serialized := fmt.Sprintf(
		"%s|%s|%s|%s|%s|%s|%s",
		createdAt.UTC().Format(time.RFC3339Nano),
		actor,
		eventType,
		entityType,
		entityID,
		string(payload),
		hex.EncodeToString(prevHash),
	)
	sum := sha256.Sum256([]byte(serialized))
	return sum[:]
}

func canonicalizeAuditPayload(raw []byte) ([]byte, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}

type AuditVerificationResult struct {
	Valid               bool      `json:"valid"`
	CheckedEvents       int64     `json:"checkedEvents"`
	BrokenAtEventID     int64     `json:"brokenAtEventId,omitempty"`
	Message             string    `json:"message"`
	CheckedAt           time.Time `json:"checkedAt"`
	LastVerifiedEventID int64     `json:"lastVerifiedEventId,omitempty"`
}

// VerifyAuditChain walks the audit log in id order and recomputes every
// hash.
func VerifyAuditChain(ctx context.Context, database *sql.DB) (AuditVerificationResult, error) {
	rows, err := database.QueryContext(ctx, `
		SELECT id, created_at, actor, event_type, entity_type, entity_id, payload, prev_hash, event_hash
		FROM audit_log
		ORDER BY id ASC
	`)
	if err != nil {
		return AuditVerificationResult{}, fmt.Errorf("query audit log for verification: %w", err)
	}
	defer rows.Close()

	result := AuditVerificationResult{
		Valid:     true,
		CheckedAt: time.Now().UTC(),
		Message:   "audit hash chain is valid",
	}

	var prevEventHash []byte
	for rows.Next() {
		var (
			eventID    int64
			rawCreated any
			actor      string
			eventType  string
			entityType string
			entityID   string
			payload    []byte
			prevHash   []byte
			eventHash  []byte
		)
		if err := rows.Scan(&eventID, &rawCreated, &actor, &eventType, &entityType, &entityID, &payload, &prevHash, &eventHash); err != nil {
			return AuditVerificationResult{}, fmt.Errorf("scan audit row: %w", err)
		}
		createdAt, err := ParseTime(rawCreated)
		if err != nil {
			return AuditVerificationResult{}, fmt.Errorf("audit row %d: %w", eventID, err)
		}

		result.CheckedEvents++
		result.LastVerifiedEventID = eventID

		if !bytes.Equal(prevHash, prevEventHash) {
			result.Valid = false
			result.BrokenAtEventID = eventID
			result.Message = "audit prev_hash does not match previous event hash"
			return result, nil
		}
		if !bytes.Equal(eventHash, auditHash(createdAt, actor, eventType, entityType, entityID, payload, prevHash)) {
			result.Valid = false
			result.BrokenAtEventID = eventID
			result.Message = "audit event_hash checksum mismatch"
			return result, nil
		}
		prevEventHash = eventHash
	}
	if err := rows.Err(); err != nil {
		return AuditVerificationResult{}, fmt.Errorf("iterate audit rows: %w", err)
	}
	return result, nil
}
