package world

import (
	"errors"
	"fmt"
)

// ErrLookup is matched by every dangling-identifier error from the store.
// Reaching it from engine code means the engine skipped a check.
var ErrLookup = errors.New("lookup failed")

// LookupError reports an identifier that names no entity.
type LookupError struct {
	Kind string
	ID   fmt.Stringer
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: unknown %s %s", ErrLookup, e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrLookup) match.
func (e *LookupError) Is(target error) bool {
	return target == ErrLookup
}

// IsLookupError reports whether err is or wraps a LookupError.
func IsLookupError(err error) bool {
	return errors.Is(err, ErrLookup)
}

func unknownTimeline(id TimelineID) error   { return &LookupError{Kind: "timeline", ID: id} }
func unknownCharacter(id CharacterID) error { return &LookupError{Kind: "character", ID: id} }
func unknownMemory(id MemoryID) error       { return &LookupError{Kind: "memory", ID: id} }
func unknownEvent(id EventID) error         { return &LookupError{Kind: "event", ID: id} }
