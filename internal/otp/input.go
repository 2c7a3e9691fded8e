// Package otp normalizes one-time-passcode input as it is typed.
package otp

import (
	"strings"

	"userdesk/client/internal/autherr"
)

// Digits is the length of a complete passcode.
const Digits = 6

// MsgInvalidCode is shown when a submission is attempted with an incomplete code.
const MsgInvalidCode = "Le code OTP doit contenir 6 chiffres"

// Sanitize strips every non-digit from raw and keeps at most Digits characters.
// Applied on each keystroke, so the field never holds anything but a numeric prefix of a code.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(Digits)
	for _, r := range raw {
		if b.Len() == Digits {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Complete reports whether code is exactly Digits ASCII digits.
func Complete(code string) bool {
	if len(code) != Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Validate returns a validation error unless code is complete.
func Validate(code string) error {
	if !Complete(code) {
		return autherr.New(autherr.KindValidation, MsgInvalidCode)
	}
	return nil
}
