package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/phonedesk/server/internal/phonechange"
	"github.com/phonedesk/server/internal/repo"
)

const (
	codeLength      = 6
	defaultCodeTTL  = 5 * time.Minute
	maxCodeAttempts = 5
)

// StoreIssuer generates random codes, delivers them through a Sender and
// keeps only a salted hash in a CodeRepo keyed by session id
type StoreIssuer struct {
	codes  repo.CodeRepo
	sender Sender
	salt   string
	ttl    time.Duration
	now    func() time.Time
}

// NewStoreIssuer creates a store-backed issuer. ttl <= 0 uses five minutes.
func NewStoreIssuer(codes repo.CodeRepo, sender Sender, salt string, ttl time.Duration) *StoreIssuer {
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &StoreIssuer{
		codes:  codes,
		sender: sender,
		salt:   salt,
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueCode replaces any active code for the session and sends the new one
// to the phone on file. The returned prompt never contains the code.
func (p *StoreIssuer) IssueCode(ctx context.Context, rec phonechange.Record) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	expiresAt := p.now().Add(p.ttl)
	if _, err := p.codes.ReplaceCode(ctx, rec.SessionID, hashCodeHex(rec.SessionID, code, p.salt), expiresAt); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}

	text := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(p.ttl.Minutes()))
	if err := p.sender.Send(ctx, rec.Phone, text); err != nil {
		return "", fmt.Errorf("send code: %w", err)
	}

	return fmt.Sprintf("A verification code has been sent to %s. Tell me the code once you receive it.\n"+
		"To resend the code, enter %q.", MaskPhone(rec.Phone), phonechange.ResendMarker), nil
}

// CheckCode compares code with the active code of the session. A matching
// code is consumed; a missing or expired one never matches.
func (p *StoreIssuer) CheckCode(ctx context.Context, rec phonechange.Record, code string) (bool, error) {
	active, err := p.codes.GetActiveBySession(ctx, rec.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load code: %w", err)
	}
	if !active.Active(p.now()) {
		return false, nil
	}

	n, err := p.codes.IncrementAttempt(ctx, active.ID)
	if err != nil {
		return false, fmt.Errorf("record attempt: %w", err)
	}
	if n > maxCodeAttempts {
		if err := p.codes.MarkConsumed(ctx, active.ID); err != nil {
			return false, fmt.Errorf("retire code: %w", err)
		}
		return false, nil
	}

	if subtle.ConstantTimeCompare(hashCodeBytes(rec.SessionID, code, p.salt), active.CodeHash) != 1 {
		return false, nil
	}

	if err := p.codes.MarkConsumed(ctx, active.ID); err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	return true, nil
}

func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n.Int64()), nil
}

// hashCodeHex returns SHA-256(session:code:salt) as hex for storage
func hashCodeHex(sessionID, code, salt string) string {
	return hex.EncodeToString(hashCodeBytes(sessionID, code, salt))
}

func hashCodeBytes(sessionID, code, salt string) []byte {
	sum := sha256.Sum256([]byte(sessionID + ":" + code + ":" + salt))
	return sum[:]
}
