// Package verification issues and checks the one-time codes used by the
// phone-change conversation.
package verification

import (
	"context"
	"fmt"

	"github.com/phonedesk/server/internal/phonechange"
)

// DemoCode is the fixed code used by DemoIssuer
const DemoCode = "123456"

// DemoIssuer never sends anything: the code is always DemoCode and is shown
// in the prompt itself
type DemoIssuer struct{}

// NewDemoIssuer creates the demonstration issuer
func NewDemoIssuer() *DemoIssuer {
	return &DemoIssuer{}
}

// IssueCode returns the prompt with the demonstration code embedded
func (DemoIssuer) IssueCode(ctx context.Context, rec phonechange.Record) (string, error) {
	return fmt.Sprintf("Verification code (%s) has been sent to your phone. Tell me the code once you receive it.\n"+
		"To resend the code, enter %q.", DemoCode, phonechange.ResendMarker), nil
}

// CheckCode compares against DemoCode
func (DemoIssuer) CheckCode(ctx context.Context, rec phonechange.Record, code string) (bool, error) {
	return code == DemoCode, nil
}
