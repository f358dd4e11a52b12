package engine

// Clock numbers submitted actions. Sequence numbers are logical: a replay
// of the same actions reproduces them exactly, which wall-clock time
// would not.
//
// The engine is single-threaded, so Clock needs no synchronization.
type Clock struct {
	seq int64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock resuming after start.
func NewClockAt(start int64) *Clock {
	return &Clock{seq: start}
}

// Next advances the clock and returns the new sequence number.
func (c *Clock) Next() int64 {
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq
}
