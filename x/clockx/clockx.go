package clockx

import (
	"sync"
	"time"
)

// Clock abstracts the time source so scheduling code is testable without
// real delays.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fake is a controllable clock for tests.
type Fake struct {
	mu  sync.Mutex
	cur time.Time
}

// NewFake returns a fake clock initialised to start.
func NewFake(start time.Time) *Fake {
	return &Fake{cur: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.cur = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d and returns the updated time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	f.cur = f.cur.Add(d)
	t := f.cur
	f.mu.Unlock()
	return t
}
