package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phonedesk/server/internal/phonechange"
)

const defaultRecordTTL = 30 * time.Minute

// ErrRecordMismatch is returned when a record differs from what its token was issued for
var ErrRecordMismatch = errors.New("record does not match its token")

// RecordClaims binds the handler-owned fields of a record to a token
type RecordClaims struct {
	SessionID   string `json:"sid"`
	Step        int    `json:"step"`
	Times       int    `json:"times"`
	IntentLabel int    `json:"intent"`
	UserID      int64  `json:"uid"`
	jwt.RegisteredClaims
}

// RecordSigner signs and verifies the caller-held session record
type RecordSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewRecordSigner creates a signer. ttl <= 0 uses 30 minutes.
func NewRecordSigner(secret string, ttl time.Duration) *RecordSigner {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &RecordSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL is how long a signed record stays valid
func (s *RecordSigner) TTL() time.Duration {
	return s.ttl
}

// Sign returns an HS256 token over the record's step, retry count, intent,
// session and user, plus the token's unique ID (jti)
func (s *RecordSigner) Sign(rec phonechange.Record) (token string, id string, err error) {
	now := s.now()
	id = uuid.NewString()
	claims := &RecordClaims{
		SessionID:   rec.SessionID,
		Step:        int(rec.Step),
		Times:       rec.Times,
		IntentLabel: rec.IntentLabel,
		UserID:      rec.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        id,
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign record: %w", err)
	}
	return token, id, nil
}

// Verify checks rec.RecordToken and that the record still carries the
// values it was signed with. It returns the token ID.
func (s *RecordSigner) Verify(rec phonechange.Record) (string, error) {
	if rec.RecordToken == "" {
		return "", fmt.Errorf("missing record token: %w", ErrRecordMismatch)
	}

	token, err := jwt.ParseWithClaims(rec.RecordToken, &RecordClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("failed to parse record token: %w", err)
	}

	claims, ok := token.Claims.(*RecordClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid record token")
	}

	if claims.SessionID != rec.SessionID ||
		claims.Step != int(rec.Step) ||
		claims.Times != rec.Times ||
		claims.IntentLabel != rec.IntentLabel ||
		claims.UserID != rec.UserID {
		return "", ErrRecordMismatch
	}
	if claims.ID == "" {
		return "", fmt.Errorf("record token has no ID: %w", ErrRecordMismatch)
	}
	return claims.ID, nil
}
