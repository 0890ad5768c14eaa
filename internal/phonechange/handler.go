package phonechange

import (
	"context"
	"fmt"
	"strings"
)

// ResendMarker in the caller's content asks for the code to be sent again
const ResendMarker = "R"

// DefaultMaxAttempts is the number of consecutive invalid inputs allowed per step
const DefaultMaxAttempts = 2

// Messages returned in Envelope.Message and Record.Content
const (
	MsgCodeSent       = "verification code sent"
	MsgCodeChecked    = "verification code checked"
	MsgCodeFailed     = "verification code check failed"
	MsgPhoneUpdated   = "phone number updated"
	MsgPhoneInvalid   = "phone number validation failed"
	PromptNewPhone    = "Please enter the new phone number you want to keep on file."
	PromptCodeRetry   = "The verification code is incorrect, please enter it again."
	PromptPhoneUpdate = `Your phone number on file has been updated. You can review it under "Me" -> "Profile" -> "Phone number".`
)

// CodeIssuer issues verification codes and checks the codes callers echo back
type CodeIssuer interface {
	// IssueCode sends a code for the session and returns the user-facing prompt
	IssueCode(ctx context.Context, rec Record) (prompt string, err error)
	// CheckCode reports whether code is the one issued for the session
	CheckCode(ctx context.Context, rec Record, code string) (bool, error)
}

// Handler advances a Record through the phone-change conversation
type Handler struct {
	codes       CodeIssuer
	validPhone  func(string) bool
	maxAttempts int
}

// Option configures a Handler
type Option func(*Handler)

// WithMaxAttempts sets the per-step retry budget; values below 1 are ignored
func WithMaxAttempts(n int) Option {
	return func(h *Handler) {
		if n >= 1 {
			h.maxAttempts = n
		}
	}
}

// WithPhoneValidator replaces ValidPhone
func WithPhoneValidator(fn func(string) bool) Option {
	return func(h *Handler) {
		if fn != nil {
			h.validPhone = fn
		}
	}
}

// NewHandler creates a handler backed by the given code issuer
func NewHandler(codes CodeIssuer, opts ...Option) *Handler {
	h := &Handler{
		codes:       codes,
		validPhone:  ValidPhone,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle runs one turn. rec is a copy; the returned envelope carries the next
// version of it. Errors only come from the code issuer.
func (h *Handler) Handle(ctx context.Context, rec Record) (Reply, error) {
	switch rec.Step {
	case StepStart:
		return h.start(ctx, rec)
	case StepAwaitingCode:
		if strings.Contains(rec.Content, ResendMarker) {
			return h.resend(ctx, rec)
		}
		return h.verifyCode(ctx, rec)
	case StepAwaitingPhone:
		return h.updatePhone(rec), nil
	default:
		return Reply{}, fmt.Errorf("unknown step %d", int(rec.Step))
	}
}

func (h *Handler) start(ctx context.Context, rec Record) (Reply, error) {
	prompt, err := h.codes.IssueCode(ctx, rec)
	if err != nil {
		return Reply{}, fmt.Errorf("issue code: %w", err)
	}
	rec.IntentLabel = IntentPhoneChange
	rec.Step = StepAwaitingCode
	rec.Content = prompt
	return reply(MsgCodeSent, rec, OutcomeCodeSent), nil
}

func (h *Handler) resend(ctx context.Context, rec Record) (Reply, error) {
	prompt, err := h.codes.IssueCode(ctx, rec)
	if err != nil {
		return Reply{}, fmt.Errorf("reissue code: %w", err)
	}
	rec.Content = prompt
	return reply(MsgCodeSent, rec, OutcomeCodeResent), nil
}

func (h *Handler) verifyCode(ctx context.Context, rec Record) (Reply, error) {
	ok, err := h.codes.CheckCode(ctx, rec, rec.Content)
	if err != nil {
		return Reply{}, fmt.Errorf("check code: %w", err)
	}
	if ok {
		rec.Step = StepAwaitingPhone
		rec.Times = 0
		rec.Content = PromptNewPhone
		return reply(MsgCodeChecked, rec, OutcomeCodeAccepted), nil
	}

	if h.exhausted(rec.Times) {
		rec = reset(rec, MsgCodeFailed)
		return reply(MsgCodeFailed, rec, OutcomeCodeFailed), nil
	}
	rec.Times++
	rec.Content = PromptCodeRetry
	return reply(MsgCodeChecked, rec, OutcomeCodeRejected), nil
}

func (h *Handler) updatePhone(rec Record) Reply {
	if h.validPhone(rec.Content) {
		rec = reset(rec, PromptPhoneUpdate)
		return reply(MsgPhoneUpdated, rec, OutcomePhoneUpdated)
	}

	if h.exhausted(rec.Times) {
		rec = reset(rec, MsgPhoneInvalid)
		return reply(MsgPhoneInvalid, rec, OutcomePhoneFailed)
	}
	rec.Times++
	rec.Content = MsgPhoneInvalid
	return reply(MsgPhoneInvalid, rec, OutcomePhoneRejected)
}

// exhausted reports whether one more failure uses up the retry budget.
// Written without incrementing so a caller-supplied times cannot overflow.
func (h *Handler) exhausted(times int) bool {
	return times >= h.maxAttempts-1
}

// reset ends the conversation, successful or not
func reset(rec Record, content string) Record {
	rec.Step = StepStart
	rec.IntentLabel = IntentIdle
	rec.Times = 0
	rec.Content = content
	return rec
}

func reply(msg string, rec Record, outcome Outcome) Reply {
	return Reply{
		Envelope: Envelope{StatusCode: StatusOK, Message: msg, Record: rec},
		Outcome:  outcome,
	}
}
