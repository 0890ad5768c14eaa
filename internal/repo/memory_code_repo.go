package repo

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phonedesk/server/internal/model"
)

type memoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*model.VerificationCode // by session id, latest only
	now   func() time.Time
}

// NewMemoryCodeRepo creates a process-local CodeRepo. Codes are lost on restart.
func NewMemoryCodeRepo() CodeRepo {
	return newMemoryCodeRepo(time.Now)
}

func newMemoryCodeRepo(now func() time.Time) *memoryCodeRepo {
	return &memoryCodeRepo{
		codes: make(map[string]*model.VerificationCode),
		now:   now,
	}
}

func (r *memoryCodeRepo) ReplaceCode(ctx context.Context, sessionID, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	hash, err := hex.DecodeString(codeHashHex)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode code_hash: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code := &model.VerificationCode{
		ID:        uuid.New(),
		SessionID: sessionID,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
		CreatedAt: r.now(),
	}
	r.codes[sessionID] = code
	return code.ID, nil
}

func (r *memoryCodeRepo) GetActiveBySession(ctx context.Context, sessionID string) (model.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.codes[sessionID]
	if !ok || !code.Active(r.now()) {
		return model.VerificationCode{}, fmt.Errorf("no active code: %w", ErrNotFound)
	}
	return *code, nil
}

func (r *memoryCodeRepo) IncrementAttempt(ctx context.Context, codeID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.byID(codeID)
	if code == nil {
		return 0, fmt.Errorf("code %s: %w", codeID, ErrNotFound)
	}
	code.AttemptCount++
	return code.AttemptCount, nil
}

func (r *memoryCodeRepo) MarkConsumed(ctx context.Context, codeID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.byID(codeID)
	if code == nil {
		return fmt.Errorf("code %s: %w", codeID, ErrNotFound)
	}
	now := r.now()
	code.ConsumedAt = &now
	return nil
}

// byID must be called with r.mu held
func (r *memoryCodeRepo) byID(id uuid.UUID) *model.VerificationCode {
	for _, c := range r.codes {
		if c.ID == id {
			return c
		}
	}
	return nil
}
