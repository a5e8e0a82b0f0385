package clock

import "time"

// Clock abstracts wall-clock reads so replay windows can be tested.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed returns a clock pinned to a single instant.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time { return f.At }
