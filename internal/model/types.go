package model

import (
	"time"

	"github.com/google/uuid"
)

// VerificationCode is an issued one-time code for a conversation session.
// Only the hash of the code is stored.
type VerificationCode struct {
	ID           uuid.UUID
	SessionID    string
	CodeHash     []byte
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	CreatedAt    time.Time
	AttemptCount int
}

// Active reports whether the code can still be checked at now
func (c VerificationCode) Active(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}
