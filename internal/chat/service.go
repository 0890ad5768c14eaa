// Package chat runs conversational turns on behalf of the HTTP layer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phonedesk/server/internal/auth"
	"github.com/phonedesk/server/internal/metrics"
	"github.com/phonedesk/server/internal/phonechange"
)

var (
	// ErrRecordTampered is returned when a record does not match its record token
	ErrRecordTampered = errors.New("session record was modified")
	// ErrSessionBusy is returned when a turn for the same session is already running
	ErrSessionBusy = errors.New("session has a turn in flight")
)

// TurnHandler advances a session record by one turn
type TurnHandler interface {
	Handle(ctx context.Context, rec phonechange.Record) (phonechange.Reply, error)
}

// Service orchestrates one turn: record token check, session id assignment,
// per-session admission, the step handler and re-signing
type Service struct {
	handler TurnHandler
	signer  *auth.RecordSigner
	metrics *metrics.Metrics

	mu       sync.Mutex
	inFlight map[string]struct{}
	// latest is the ID of the last token issued per session; only that
	// token may continue the conversation
	latest map[string]issuedToken
	issues uint64
	now    func() time.Time
}

type issuedToken struct {
	id       string
	issuedAt time.Time
}

// NewService creates a conversation service. A nil signer disables record
// tokens; nil metrics disables counting.
func NewService(handler TurnHandler, signer *auth.RecordSigner, m *metrics.Metrics) *Service {
	return &Service{
		handler:  handler,
		signer:   signer,
		metrics:  m,
		inFlight: make(map[string]struct{}),
		latest:   make(map[string]issuedToken),
		now:      time.Now,
	}
}

// Submit runs one conversational turn
func (s *Service) Submit(ctx context.Context, rec phonechange.Record) (phonechange.Envelope, error) {
	var tokenID string
	if s.signer != nil && rec.Step != phonechange.StepStart {
		id, err := s.signer.Verify(rec)
		if err != nil {
			s.reject("tampered")
			return phonechange.Envelope{}, fmt.Errorf("%w: %v", ErrRecordTampered, err)
		}
		tokenID = id
	}

	if rec.Step == phonechange.StepStart && (rec.SessionID == "" || rec.SessionID == phonechange.DefaultSessionID) {
		rec.SessionID = uuid.NewString()
	}

	if !s.acquire(rec.SessionID) {
		s.reject("busy")
		return phonechange.Envelope{}, ErrSessionBusy
	}
	defer s.release(rec.SessionID)

	if tokenID != "" && !s.isLatest(rec.SessionID, tokenID) {
		s.reject("replayed")
		return phonechange.Envelope{}, fmt.Errorf("%w: superseded record token", ErrRecordTampered)
	}

	entered := rec.Step
	reply, err := s.handler.Handle(ctx, rec)
	if err != nil {
		s.reject("error")
		return phonechange.Envelope{}, fmt.Errorf("handle turn: %w", err)
	}

	env := reply.Envelope
	env.Record.RecordToken = ""
	if s.signer != nil {
		token, id, err := s.signer.Sign(env.Record)
		if err != nil {
			return phonechange.Envelope{}, err
		}
		env.Record.RecordToken = token
		s.remember(env.Record.SessionID, id)
	}

	if s.metrics != nil {
		s.metrics.Turns.WithLabelValues(entered.String(), string(reply.Outcome)).Inc()
	}
	if reply.Outcome.Terminal() {
		log.Printf("Session %s user %d: conversation ended (%s)", env.Record.SessionID, env.Record.UserID, reply.Outcome)
	}
	return env, nil
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.inFlight, sessionID)
	s.mu.Unlock()
}

func (s *Service) isLatest(sessionID, tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.latest[sessionID]
	return ok && last.id == tokenID
}

// remember records the newest token of a session. Entries older than the
// token TTL can only back expired tokens and are evicted every 512 issues.
func (s *Service) remember(sessionID, tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.latest[sessionID] = issuedToken{id: tokenID, issuedAt: now}

	s.issues++
	if s.issues%512 == 0 {
		cutoff := now.Add(-s.signer.TTL())
		for k, v := range s.latest {
			if v.issuedAt.Before(cutoff) {
				delete(s.latest, k)
			}
		}
	}
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RejectedTurns.WithLabelValues(reason).Inc()
	}
}
