package world

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifiers are arena indexes. They are allocated sequentially, never
// reused, and stay valid for the lifetime of the store.
type (
	TimelineID  uint64
	CharacterID uint64
	MemoryID    uint64
	EventID     uint64
)

// RootTimeline is the timeline every store starts with.
const RootTimeline TimelineID = 0

func (id TimelineID) String() string  { return "T" + strconv.FormatUint(uint64(id), 10) }
func (id CharacterID) String() string { return "C" + strconv.FormatUint(uint64(id), 10) }
func (id MemoryID) String() string    { return "M" + strconv.FormatUint(uint64(id), 10) }
func (id EventID) String() string     { return "E" + strconv.FormatUint(uint64(id), 10) }

func (id TimelineID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id CharacterID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id MemoryID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *TimelineID) UnmarshalText(text []byte) error {
	n, err := parseID('T', string(text))
	*id = TimelineID(n)
	return err
}

func (id *CharacterID) UnmarshalText(text []byte) error {
	n, err := parseID('C', string(text))
	*id = CharacterID(n)
	return err
}

func (id *MemoryID) UnmarshalText(text []byte) error {
	n, err := parseID('M', string(text))
	*id = MemoryID(n)
	return err
}

func (id *EventID) UnmarshalText(text []byte) error {
	n, err := parseID('E', string(text))
	*id = EventID(n)
	return err
}

// parseID accepts "T3" style identifiers or a bare "3".
func parseID(prefix byte, s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if len(s) > 0 && (s[0] == prefix || s[0] == prefix+('a'-'A')) {
		s = s[1:]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %c identifier %q", prefix, s)
	}
	return n, nil
}

// ParseTimelineID parses "T3" or "3".
func ParseTimelineID(s string) (TimelineID, error) {
	var id TimelineID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// ParseCharacterID parses "C3" or "3".
func ParseCharacterID(s string) (CharacterID, error) {
	var id CharacterID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// ParseMemoryID parses "M3" or "3".
func ParseMemoryID(s string) (MemoryID, error) {
	var id MemoryID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// ParseEventID parses "E3" or "3".
func ParseEventID(s string) (EventID, error) {
	var id EventID
	err := id.UnmarshalText([]byte(s))
	return id, err
}
