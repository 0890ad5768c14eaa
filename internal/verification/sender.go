package verification

import (
	"context"
	"log"
	"strings"
)

// Sender delivers a text message to a phone number
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// LogSender is a dry-run sender: it only logs the masked recipient
type LogSender struct {
	logger *log.Logger
}

// NewLogSender creates a dry-run sender. A nil logger uses the standard logger.
func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the message instead of sending it. The text is never logged
// because it contains the code.
func (s *LogSender) Send(ctx context.Context, phone, text string) error {
	s.logger.Printf("[sms][dry-run] to=%s len=%d", MaskPhone(phone), len(text))
	return nil
}

// MaskPhone masks a phone number for logging (e.g., +8********00)
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
