// Package precondition types the business-rule refusals returned by billing
// operations. Each refusal carries a stable reason code for clients.
package precondition

import "errors"

type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

// New returns a sentinel refusal. Compare with errors.Is.
func New(reason string) error {
	return &Error{Reason: reason}
}

// Reason extracts the reason code when err is a refusal.
func Reason(err error) (string, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

var (
	ErrWrongStatus         = New("wrong_status")
	ErrWrongType           = New("wrong_type")
	ErrInsufficientBalance = New("insufficient_balance")
)
