package phonechange

import "regexp"

// Mainland mobile number, optional +86 prefix. \d is ASCII-only in RE2.
var phonePattern = regexp.MustCompile(`^(?:\+86)?1[3-9]\d{9}$`)

// ValidPhone reports whether s is an 11-digit mainland mobile number,
// optionally prefixed with +86
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}
