package phonechange

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCode = "123456"

type fixedIssuer struct {
	issued   int
	issueErr error
	checkErr error
}

func (f *fixedIssuer) IssueCode(ctx context.Context, rec Record) (string, error) {
	if f.issueErr != nil {
		return "", f.issueErr
	}
	f.issued++
	return "Verification code (" + testCode + ") sent. Enter \"R\" to resend.", nil
}

func (f *fixedIssuer) CheckCode(ctx context.Context, rec Record, code string) (bool, error) {
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return code == testCode, nil
}

func newRecord(step Step, content string) Record {
	return Record{
		Content:   content,
		SessionID: "s-1",
		Step:      step,
		UserID:    42,
		Name:      "alice",
		Phone:     "13900000000",
	}
}

func TestHandle_StartIssuesCode(t *testing.T) {
	issuer := &fixedIssuer{}
	h := NewHandler(issuer)

	reply, err := h.Handle(context.Background(), newRecord(StepStart, "I want to change my phone"))
	require.NoError(t, err)

	env := reply.Envelope
	assert.Equal(t, StatusOK, env.StatusCode)
	assert.Equal(t, MsgCodeSent, env.Message)
	assert.Equal(t, StepAwaitingCode, env.Record.Step)
	assert.Equal(t, IntentPhoneChange, env.Record.IntentLabel)
	assert.Contains(t, env.Record.Content, testCode)
	assert.Equal(t, OutcomeCodeSent, reply.Outcome)
	assert.Equal(t, 1, issuer.issued)
}

func TestHandle_IdentityFieldsPassThrough(t *testing.T) {
	h := NewHandler(&fixedIssuer{})
	in := newRecord(StepStart, "hi")

	reply, err := h.Handle(context.Background(), in)
	require.NoError(t, err)

	out := reply.Envelope.Record
	assert.Equal(t, in.UserID, out.UserID)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Phone, out.Phone)
	assert.Equal(t, in.SessionID, out.SessionID)
}

func TestHandle_CorrectCodeAdvances(t *testing.T) {
	h := NewHandler(&fixedIssuer{})
	rec := newRecord(StepAwaitingCode, testCode)
	rec.Times = 1
	rec.IntentLabel = IntentPhoneChange

	reply, err := h.Handle(context.Background(), rec)
	require.NoError(t, err)

	out := reply.Envelope.Record
	assert.Equal(t, StepAwaitingPhone, out.Step)
	assert.Equal(t, 0, out.Times)
	assert.Equal(t, PromptNewPhone, out.Content)
	assert.Equal(t, MsgCodeChecked, reply.Envelope.Message)
	assert.Equal(t, OutcomeCodeAccepted, reply.Outcome)
}

func TestHandle_ResendKeepsRetryCount(t *testing.T) {
	for _, times := range []int{0, 1} {
		issuer := &fixedIssuer{}
		h := NewHandler(issuer)
		rec := newRecord(StepAwaitingCode, "please R")
		rec.Times = times
		rec.IntentLabel = IntentPhoneChange

		reply, err := h.Handle(context.Background(), rec)
		require.NoError(t, err)

		out := reply.Envelope.Record
		assert.Equal(t, StepAwaitingCode, out.Step, "times=%d", times)
		assert.Equal(t, times, out.Times, "resend must not consume a retry")
		assert.Contains(t, out.Content, testCode)
		assert.Equal(t, MsgCodeSent, reply.Envelope.Message)
		assert.Equal(t, OutcomeCodeResent, reply.Outcome)
		assert.Equal(t, 1, issuer.issued)
	}
}

func TestHandle_LowercaseRIsNotResend(t *testing.T) {
	h := NewHandler(&fixedIssuer{})

	reply, err := h.Handle(context.Background(), newRecord(StepAwaitingCode, "r"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCodeRejected, reply.Outcome)
	assert.Equal(t, 1, reply.Envelope.Record.Times)
}

func TestHandle_TwoWrongCodesFail(t *testing.T) {
	h := NewHandler(&fixedIssuer{})
	rec := newRecord(StepAwaitingCode, "000000")
	rec.IntentLabel = IntentPhoneChange

	first, err := h.Handle(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingCode, first.Envelope.Record.Step)
	assert.Equal(t, 1, first.Envelope.Record.Times)
	assert.Equal(t, PromptCodeRetry, first.Envelope.Record.Content)
	assert.Equal(t, MsgCodeChecked, first.Envelope.Message)

	next := first.Envelope.Record
	next.Content = "111111"
	second, err := h.Handle(context.Background(), next)
	require.NoError(t, err)

	out := second.Envelope.Record
	assert.Equal(t, StepStart, out.Step)
	assert.Equal(t, IntentIdle, out.IntentLabel)
	assert.Equal(t, 0, out.Times)
	assert.Equal(t, MsgCodeFailed, out.Content)
	assert.Equal(t, MsgCodeFailed, second.Envelope.Message)
	assert.Equal(t, StatusOK, second.Envelope.StatusCode)
	assert.True(t, second.Outcome.Terminal())
}

func TestHandle_HugeRetryCountStillExhausts(t *testing.T) {
	h := NewHandler(&fixedIssuer{})

	for _, step := range []Step{StepAwaitingCode, StepAwaitingPhone} {
		rec := newRecord(step, "bad-input")
		rec.IntentLabel = IntentPhoneChange
		rec.Times = math.MaxInt

		reply, err := h.Handle(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, StepStart, reply.Envelope.Record.Step, "step %s", step)
		assert.Equal(t, 0, reply.Envelope.Record.Times)
		assert.True(t, reply.Outcome.Terminal())
	}
}

func TestHandle_PhoneValidation(t *testing.T) {
	tests := []struct {
		phone string
		ok    bool
	}{
		{"13800138000", true},
		{"+8613800138000", true},
		{"12345", false},
		{"23800138000", false},
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			h := NewHandler(&fixedIssuer{})
			reply, err := h.Handle(context.Background(), newRecord(StepAwaitingPhone, tt.phone))
			require.NoError(t, err)
			if tt.ok {
				assert.Equal(t, OutcomePhoneUpdated, reply.Outcome)
				assert.Equal(t, StepStart, reply.Envelope.Record.Step)
				assert.Equal(t, MsgPhoneUpdated, reply.Envelope.Message)
			} else {
				assert.Equal(t, OutcomePhoneRejected, reply.Outcome)
				assert.Equal(t, StepAwaitingPhone, reply.Envelope.Record.Step)
				assert.Equal(t, MsgPhoneInvalid, reply.Envelope.Message)
			}
		})
	}
}

func TestHandle_TwoInvalidPhonesFail(t *testing.T) {
	h := NewHandler(&fixedIssuer{})
	rec := newRecord(StepAwaitingPhone, "12345")
	rec.IntentLabel = IntentPhoneChange

	first, err := h.Handle(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, 1, first.Envelope.Record.Times)

	next := first.Envelope.Record
	next.Content = "abc"
	second, err := h.Handle(context.Background(), next)
	require.NoError(t, err)

	out := second.Envelope.Record
	assert.Equal(t, StepStart, out.Step)
	assert.Equal(t, IntentIdle, out.IntentLabel)
	assert.Equal(t, 0, out.Times)
	assert.Equal(t, MsgPhoneInvalid, second.Envelope.Message)
	assert.Equal(t, OutcomePhoneFailed, second.Outcome)
}

func TestHandle_InvalidThenValidPhoneSucceeds(t *testing.T) {
	h := NewHandler(&fixedIssuer{})
	rec := newRecord(StepAwaitingPhone, "12345")
	rec.IntentLabel = IntentPhoneChange

	first, err := h.Handle(context.Background(), rec)
	require.NoError(t, err)

	next := first.Envelope.Record
	next.Content = "13800138000"
	second, err := h.Handle(context.Background(), next)
	require.NoError(t, err)

	out := second.Envelope.Record
	assert.Equal(t, StepStart, out.Step)
	assert.Equal(t, 0, out.Times)
	assert.Equal(t, IntentIdle, out.IntentLabel)
	assert.Equal(t, PromptPhoneUpdate, out.Content)
	assert.Equal(t, MsgPhoneUpdated, second.Envelope.Message)
}

func TestHandle_FullConversation(t *testing.T) {
	h := NewHandler(&fixedIssuer{})
	rec := newRecord(StepStart, "change phone")

	steps := []struct {
		content string
		want    Step
	}{
		{"", StepAwaitingCode},
		{"R", StepAwaitingCode},
		{testCode, StepAwaitingPhone},
		{"+8613912345678", StepStart},
	}
	for i, s := range steps {
		if i > 0 {
			rec.Content = s.content
		}
		reply, err := h.Handle(context.Background(), rec)
		require.NoError(t, err)
		rec = reply.Envelope.Record
		assert.Equal(t, s.want, rec.Step, "turn %d", i)
	}
	assert.Equal(t, IntentIdle, rec.IntentLabel)
}

func TestHandle_MaxAttemptsOption(t *testing.T) {
	h := NewHandler(&fixedIssuer{}, WithMaxAttempts(3))
	rec := newRecord(StepAwaitingCode, "bad")

	for i := 1; i <= 2; i++ {
		reply, err := h.Handle(context.Background(), rec)
		require.NoError(t, err)
		rec = reply.Envelope.Record
		assert.Equal(t, StepAwaitingCode, rec.Step)
		assert.Equal(t, i, rec.Times)
		rec.Content = "bad"
	}
	reply, err := h.Handle(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCodeFailed, reply.Outcome)
}

func TestHandle_IssuerErrorsPropagate(t *testing.T) {
	boom := errors.New("store down")

	h := NewHandler(&fixedIssuer{issueErr: boom})
	_, err := h.Handle(context.Background(), newRecord(StepStart, ""))
	require.ErrorIs(t, err, boom)

	h = NewHandler(&fixedIssuer{checkErr: boom})
	_, err = h.Handle(context.Background(), newRecord(StepAwaitingCode, testCode))
	require.ErrorIs(t, err, boom)
}

func TestParseStep(t *testing.T) {
	for n, want := range []Step{StepStart, StepAwaitingCode, StepAwaitingPhone} {
		got, err := ParseStep(n)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseStep(3)
	assert.Error(t, err)
	_, err = ParseStep(-1)
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(Step(7).String(), "step("))
}
