// Package input samples the two physical buttons. Buttons are level-read
// and debounced by periodic re-sampling; nothing is edge-triggered, so a
// wake path can always re-sample fresh instead of trusting pre-sleep state.
package input

import (
	"context"
	"time"

	"statuspod/bus"
	"statuspod/types"
	"statuspod/x/clockx"
)

const (
	// SamplePeriod is the debounce-by-resample interval.
	SamplePeriod = 20 * time.Millisecond
	// HoldThreshold is the long-press gesture (power off, factory reset,
	// error-state restart).
	HoldThreshold = 3 * time.Second
)

// LevelReader reports the current logical level: true = pressed.
type LevelReader interface {
	Pressed() bool
}

// Button tracks one debounced button and emits events on the bus.
type Button struct {
	id   types.ButtonID
	read LevelReader
	conn *bus.Connection

	down      bool
	downSince time.Time
	heldFired bool
}

func NewButton(id types.ButtonID, read LevelReader, conn *bus.Connection) *Button {
	return &Button{id: id, read: read, conn: conn}
}

// Tick samples the level once and emits any resulting events.
func (b *Button) Tick(now time.Time) {
	level := b.read.Pressed()

	switch {
	case level && !b.down:
		b.down = true
		b.downSince = now
		b.heldFired = false
		b.emit(types.ButtonEvent{ID: b.id, Action: types.ButtonPressed})

	case level && b.down:
		if !b.heldFired && now.Sub(b.downSince) >= HoldThreshold {
			b.heldFired = true
			b.emit(types.ButtonEvent{ID: b.id, Action: types.ButtonHeld, Hold: now.Sub(b.downSince)})
		}

	case !level && b.down:
		b.down = false
		b.emit(types.ButtonEvent{ID: b.id, Action: types.ButtonReleased, Hold: now.Sub(b.downSince)})
	}
}

// Reset drops tracked state. Called after any wake so stale pre-sleep
// readings cannot turn into phantom events.
func (b *Button) Reset() {
	b.down = false
	b.heldFired = false
}

// Held reports whether the button is currently down and for how long.
func (b *Button) Held(now time.Time) (time.Duration, bool) {
	if !b.down {
		return 0, false
	}
	return now.Sub(b.downSince), true
}

func (b *Button) emit(ev types.ButtonEvent) {
	b.conn.Publish(b.conn.NewMessage(types.TopicButton(b.id), ev, false))
}

// Sampler drives a set of buttons from one ticker goroutine.
type Sampler struct {
	buttons []*Button
	clock   clockx.Clock
}

func NewSampler(clock clockx.Clock, buttons ...*Button) *Sampler {
	return &Sampler{buttons: buttons, clock: clock}
}

// Start runs the sample loop until ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) {
	go func() {
		tick := time.NewTicker(SamplePeriod)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				now := s.clock.Now()
				for _, b := range s.buttons {
					b.Tick(now)
				}
			}
		}
	}()
}

// Reset clears every button after a wake.
func (s *Sampler) Reset() {
	for _, b := range s.buttons {
		b.Reset()
	}
}
