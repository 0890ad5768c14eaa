package phonechange

import (
	"fmt"
	"strconv"
)

// Step is the stage of the phone-change conversation
type Step int

const (
	// StepStart means no verification code has been issued yet
	StepStart Step = iota
	// StepAwaitingCode means a code was issued and the caller must echo it back
	StepAwaitingCode
	// StepAwaitingPhone means the code was accepted and a new number is expected
	StepAwaitingPhone
)

// ParseStep converts the wire integer into a Step, rejecting unknown values
func ParseStep(n int) (Step, error) {
	switch s := Step(n); s {
	case StepStart, StepAwaitingCode, StepAwaitingPhone:
		return s, nil
	default:
		return StepStart, fmt.Errorf("unknown interface_step %d", n)
	}
}

func (s Step) String() string {
	switch s {
	case StepStart:
		return "start"
	case StepAwaitingCode:
		return "awaiting_code"
	case StepAwaitingPhone:
		return "awaiting_phone"
	default:
		return "step(" + strconv.Itoa(int(s)) + ")"
	}
}

// Intent labels carried in Record.IntentLabel
const (
	IntentIdle        = 0
	IntentPhoneChange = 1
)

// DefaultSessionID is the session id a caller sends before one is assigned
const DefaultSessionID = "0"

// Record is the caller-held conversation state. It is submitted in full on
// every turn and returned with the fields the handler changed.
type Record struct {
	Content     string `json:"content"`
	SessionID   string `json:"session_id"`
	Step        Step   `json:"interface_step"`
	Times       int    `json:"times"`
	IntentLabel int    `json:"intent_label"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	RecordToken string `json:"record_token,omitempty"`
}

// StatusOK is the only status code the handler emits; business results are
// carried in Message and Record.
const StatusOK = 0

// Envelope is the uniform response shape of a conversational turn
type Envelope struct {
	StatusCode int    `json:"code"`
	Message    string `json:"msg"`
	Record     Record `json:"data"`
}

// Outcome classifies a turn for logging and metrics. It is not sent to callers.
type Outcome string

const (
	OutcomeCodeSent      Outcome = "code_sent"
	OutcomeCodeResent    Outcome = "code_resent"
	OutcomeCodeAccepted  Outcome = "code_accepted"
	OutcomeCodeRejected  Outcome = "code_rejected"
	OutcomeCodeFailed    Outcome = "code_failed"
	OutcomePhoneUpdated  Outcome = "phone_updated"
	OutcomePhoneRejected Outcome = "phone_rejected"
	OutcomePhoneFailed   Outcome = "phone_failed"
)

// Terminal reports whether the outcome ended the conversation
func (o Outcome) Terminal() bool {
	return o == OutcomeCodeFailed || o == OutcomePhoneUpdated || o == OutcomePhoneFailed
}

// Reply is the result of one turn
type Reply struct {
	Envelope Envelope
	Outcome  Outcome
}
