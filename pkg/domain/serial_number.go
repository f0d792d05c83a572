package domain

import (
	"strings"

	dErrors "custodian/pkg/domain-errors"
)

// SerialNumber identifies a single piece of equipment. Globally unique across
// all properties.
//
// Usage: construct via ParseSerialNumber at trust boundaries; stores compare
// the normalized (upper-case, trimmed) form.
type SerialNumber string

const maxSerialNumberLen = 64

// ParseSerialNumber normalizes and validates external serial-number input.
func ParseSerialNumber(s string) (SerialNumber, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "serial number cannot be empty")
	}
	if len(s) > maxSerialNumberLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "serial number too long")
	}
	for _, r := range s {
		if !isSerialRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "serial number contains invalid characters")
		}
	}
	return SerialNumber(s), nil
}

func isSerialRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '/':
		return true
	}
	return false
}

func (s SerialNumber) String() string {
	return string(s)
}
