package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditStore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const importAuditAdvisoryLockKey int64 = 7_412_009_144

// AppendImportEvent records one committed import in the hash-chained audit
// trail. When handed a bare *sql.DB it opens its own transaction so the
// advisory lock scopes correctly.
func AppendImportEvent(
	ctx context.Context,
	store AuditStore,
	industryName string,
	tableName string,
	strategy string,
	payload any,
) error {
	if database, ok := store.(*sql.DB); ok {
		tx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin audit tx: %w", err)
		}
		defer tx.Rollback()

		if err := appendImportEvent(ctx, tx, industryName, tableName, strategy, payload); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit audit tx: %w", err)
		}
		return nil
	}
	return appendImportEvent(ctx, store, industryName, tableName, strategy, payload)
}

func appendImportEvent(
	ctx context.Context,
	store AuditStore,
	industryName string,
	tableName string,
	strategy string,
	payload any,
) error {
	if _, err := store.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, importAuditAdvisoryLockKey); err != nil {
		return fmt.Errorf("acquire audit chain lock: %w", err)
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
	err = store.QueryRowContext(ctx, `SELECT event_hash FROM import_audit_events ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load previous audit hash: %w", err)
	}
	if err == sql.ErrNoRows {
		prevHash = nil
	}

	// Postgres stores timestamptz at microsecond precision by default.
	// Truncate pre-hash to keep hash input deterministic across write/read.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	serialized := fmt.Sprintf(
		"%s|%s|%s|%s|%s|%s",
		createdAt.Format(time.RFC3339Nano),
		industryName,
		tableName,
		strategy,
		string(payloadJSON),
		hex.EncodeToString(prevHash),
	)
	eventHash := sha256.Sum256([]byte(serialized))

	_, err = store.ExecContext(ctx, `
		INSERT INTO import_audit_events (
			id,
			industry,
			table_name,
			strategy,
			payload,
			created_at,
			prev_hash,
			event_hash
		) VALUES (
			$1::uuid,
			$2,
			$3,
			$4,
			$5::jsonb,
			$6,
			$7,
			$8
		)
	`, uuid.NewString(), industryName, tableName, strategy, string(payloadJSON), createdAt, prevHash, eventHash[:])
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

func canonicalizeAuditPayload(raw []byte) ([]byte, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}
