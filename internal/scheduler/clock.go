package scheduler

import "time"

// Clock abstracts time for the scheduler so the due-time logic can be tested
// against fixed instants.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock { return realClock{} }
