package engine

import (
	"errors"
	"fmt"
)

// Rejection is the expected outcome of an action whose preconditions do
// not hold. A rejected action leaves the store untouched.
type Rejection struct {
	// Op is the rejected action.
	Op Op

	// Code identifies the failed precondition.
	Code RejectionCode

	// Message is a human-readable description.
	Message string
}

// RejectionCode categorizes rejections.
type RejectionCode string

const (
	// RejectUnknownEntity means an identifier names nothing in the store.
	RejectUnknownEntity RejectionCode = "UNKNOWN_ENTITY"

	// RejectInvalidArgument means a field is malformed or out of range.
	RejectInvalidArgument RejectionCode = "INVALID_ARGUMENT"

	// RejectAbsent means a character does not exist in the timeline.
	RejectAbsent RejectionCode = "ABSENT"

	// RejectNotAlive means a character is dead in the timeline.
	RejectNotAlive RejectionCode = "NOT_ALIVE"

	// RejectNotDead means a resurrection target is alive.
	RejectNotDead RejectionCode = "NOT_DEAD"

	// RejectNotHolder means the giver does not hold the memory.
	RejectNotHolder RejectionCode = "NOT_HOLDER"

	// RejectNotFormed means the memory was not formed in the timeline's
	// history.
	RejectNotFormed RejectionCode = "NOT_FORMED"

	// RejectNotParticipant means a witness did not take part in the event.
	RejectNotParticipant RejectionCode = "NOT_PARTICIPANT"

	// RejectEmptyMechanism means an in-world mechanism was required.
	RejectEmptyMechanism RejectionCode = "EMPTY_MECHANISM"

	// RejectMissingAbility means the character lacks a required ability.
	RejectMissingAbility RejectionCode = "MISSING_ABILITY"

	// RejectImmune means the character's memories cannot be altered.
	RejectImmune RejectionCode = "IMMUNE"
)

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s: %s", r.Op, r.Code, r.Message)
}

func reject(op Op, code RejectionCode, format string, args ...any) *Rejection {
	return &Rejection{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is or wraps a *Rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// RejectionCodeOf returns the code of a wrapped *Rejection, or "".
func RejectionCodeOf(err error) RejectionCode {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}

// InternalError means the engine reached a state it should have ruled
// out, such as a dangling identifier after its checks passed. Runs that
// hit one must stop.
type InternalError struct {
	Op  Op
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error applying %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// IsInternalError reports whether err is or wraps an *InternalError.
func IsInternalError(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}
