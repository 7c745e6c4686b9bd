package models

import (
	"unicode"
	"unicode/utf8"
)

const MaxIDLength = 255

// ValidateID checks an account or entity identifier.
func ValidateID(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if len(value) > MaxIDLength {
		return &ValidationError{Field: field, Reason: "is too long"}
	}
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Reason: "is not valid UTF-8"}
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return &ValidationError{Field: field, Reason: "contains control characters"}
		}
	}
	return nil
}

func ValidateCursor(cursor int64) error {
	if cursor < 0 {
		return &ValidationError{Field: "cursor", Reason: "must not be negative"}
	}
	return nil
}
