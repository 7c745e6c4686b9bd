package models

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed identifier or cursor. It is raised
// before any transaction is opened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CursorGoneError tells the caller its cursor predates retained history (or
// was never issued) and a full resync is required.
type CursorGoneError struct {
	CurrentCursor int64 `json:"currentCursor"`
}

func (e *CursorGoneError) Error() string {
	return fmt.Sprintf("cursor gone: current cursor is %d", e.CurrentCursor)
}

// MarshalJSON renders the wire shape {"error":"cursor-gone","currentCursor":N}.
func (e *CursorGoneError) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"error":"cursor-gone","currentCursor":%d}`, e.CurrentCursor)), nil
}

func AsCursorGone(err error) (*CursorGoneError, bool) {
	var gone *CursorGoneError
	if errors.As(err, &gone) {
		return gone, true
	}
	return nil, false
}
