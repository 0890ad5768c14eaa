package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phonedesk/server/internal/model"
)

// ErrNotFound is returned when no active code exists for a session
var ErrNotFound = errors.New("not found")

// CodeRepo defines the storage operations for verification codes
type CodeRepo interface {
	ReplaceCode(ctx context.Context, sessionID, codeHashHex string, expiresAt time.Time) (uuid.UUID, error)
	GetActiveBySession(ctx context.Context, sessionID string) (model.VerificationCode, error)
	IncrementAttempt(ctx context.Context, codeID uuid.UUID) (newAttemptCount int, err error)
	MarkConsumed(ctx context.Context, codeID uuid.UUID) error
}

type codeRepo struct {
	db *sql.DB
}

// NewCodeRepo creates a PostgreSQL-backed CodeRepo
func NewCodeRepo(db *sql.DB) CodeRepo {
	return &codeRepo{db: db}
}

// ReplaceCode keeps one active code per session: any unconsumed code is
// consumed and a new row inserted in the same transaction. An advisory lock
// serialises concurrent issues for the same session.
func (r *codeRepo) ReplaceCode(ctx context.Context, sessionID, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, sessionID); err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_codes
		SET consumed_at = now()
		WHERE session_id = $1 AND consumed_at IS NULL
	`, sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume existing codes: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO verification_codes (session_id, code_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, sessionID, codeHashHex, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse code ID: %w", err)
	}
	return id, nil
}

// GetActiveBySession returns the latest unconsumed, unexpired code for the session
func (r *codeRepo) GetActiveBySession(ctx context.Context, sessionID string) (model.VerificationCode, error) {
	query := `
		SELECT id, session_id, code_hash, expires_at, consumed_at, created_at, attempt_count
		FROM verification_codes
		WHERE session_id = $1
		  AND consumed_at IS NULL
		  AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`
	var code model.VerificationCode
	var idStr, hashHex string
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&idStr,
		&code.SessionID,
		&hashHex,
		&code.ExpiresAt,
		&code.ConsumedAt,
		&code.CreatedAt,
		&code.AttemptCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VerificationCode{}, fmt.Errorf("no active code: %w", ErrNotFound)
		}
		return model.VerificationCode{}, fmt.Errorf("query code: %w", err)
	}

	code.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	code.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return code, nil
}

// IncrementAttempt bumps attempt_count and returns the new value
func (r *codeRepo) IncrementAttempt(ctx context.Context, codeID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE verification_codes
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`, codeID).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("code %s: %w", codeID, ErrNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return n, nil
}

// MarkConsumed sets consumed_at = now() for the code
func (r *codeRepo) MarkConsumed(ctx context.Context, codeID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET consumed_at = now() WHERE id = $1
	`, codeID)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("code %s: %w", codeID, ErrNotFound)
	}
	return nil
}
