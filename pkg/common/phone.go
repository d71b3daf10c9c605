package common

import (
	"fmt"
	"strings"
)

const defaultCountryCode = "254"

// NormalizePhone converts a subscriber number to international form
// without the leading plus, e.g. "0712345678" -> "254712345678".
// Returns an error when the input has no digits at all.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()
	if phone == "" {
		return "", fmt.Errorf("phone number %q has no digits", raw)
	}

	switch {
	case strings.HasPrefix(phone, defaultCountryCode):
		return phone, nil
	case strings.HasPrefix(phone, "0"):
		return defaultCountryCode + phone[1:], nil
	case len(phone) == 9:
		// Bare subscriber number without trunk prefix.
		return defaultCountryCode + phone, nil
	default:
		return phone, nil
	}
}
