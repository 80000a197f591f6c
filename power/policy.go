package power

import (
	"context"
	"time"

	"statuspod/retained"
	"statuspod/types"
)

// DeepSleepThreshold is the number of consecutive unchanged battery polls
// after which the pod powers down between polls.
const DeepSleepThreshold = 3

// MinOfficeSleep clamps the outside-hours sleep so clock skew can never
// produce a pathological near-zero sleep.
const MinOfficeSleep = 60 * time.Second

type Action uint8

const (
	// StayAwake: presence changed — render, notify, keep the radio up so
	// the user can interact with the fresh state.
	StayAwake Action = iota
	// IdleWait: on external power — no sleep state, plain wait until the
	// next poll with the network kept alive.
	IdleWait
	// LightSleep: on battery, under the deep-sleep threshold — suspend,
	// resume on timer or button.
	LightSleep
	// DeepSleep: power down; only the retained region survives. The caller
	// MUST commit retained state before acting on this.
	DeepSleep
	// ShutdownNow: battery critical — clean shutdown, unconditionally.
	ShutdownNow
)

func (a Action) String() string {
	switch a {
	case StayAwake:
		return "stay_awake"
	case IdleWait:
		return "idle_wait"
	case LightSleep:
		return "light_sleep"
	case DeepSleep:
		return "deep_sleep"
	case ShutdownNow:
		return "shutdown"
	}
	return "unknown"
}

// Input is everything one wake decision depends on.
type Input struct {
	Now          time.Time
	Changed      bool // availability differs from the last accepted value
	Unknown      bool // the poll failed; availability is neither changed nor stable
	Battery      types.BatteryStatus
	StableCycles uint8 // count before this cycle
	PollInterval time.Duration
	Hours        *OfficeHours // nil or disabled when not configured
}

// Decision is the policy output. StableCycles is the updated counter the
// caller carries forward (and commits to the retained region on DeepSleep).
type Decision struct {
	Action       Action
	SleepFor     time.Duration
	StableCycles uint8
}

// Decide implements the wake/sleep policy as a pure function of its input.
func Decide(in Input) Decision {
	// Battery-critical shutdown bypasses everything else.
	if !in.Battery.OnExternalPower && in.Battery.Percent <= ShutdownPercent {
		return Decision{Action: ShutdownNow}
	}

	// External power suppresses deep sleep and office-hours gating. A newly
	// detected charger during a sleep decision lands here and upgrades the
	// cycle to a full-capability wake.
	if in.Battery.OnExternalPower {
		return Decision{Action: IdleWait, SleepFor: in.PollInterval}
	}

	// Office hours apply on battery only.
	if in.Hours.Enabled() && !in.Hours.Contains(in.Now) {
		until := in.Hours.NextStart(in.Now).Sub(in.Now)
		if until < MinOfficeSleep {
			until = MinOfficeSleep
		}
		return Decision{Action: DeepSleep, SleepFor: until, StableCycles: in.StableCycles}
	}

	if in.Changed {
		return Decision{Action: StayAwake, SleepFor: in.PollInterval, StableCycles: 0}
	}

	// A failed poll proves nothing about stability: sleep lightly, leave the
	// counter alone, never deep-sleep on an unknown state.
	if in.Unknown {
		return Decision{Action: LightSleep, SleepFor: in.PollInterval, StableCycles: in.StableCycles}
	}

	cycles := in.StableCycles
	if cycles < 255 {
		cycles++
	}
	if cycles >= DeepSleepThreshold {
		return Decision{Action: DeepSleep, SleepFor: in.PollInterval, StableCycles: cycles}
	}
	return Decision{Action: LightSleep, SleepFor: in.PollInterval, StableCycles: cycles}
}

// Sleeper is the hardware sleep contract. LightSleep preserves memory and
// reports what woke the pod; DeepSleep discards everything but the retained
// region and does not return on real hardware. Shutdown releases the power
// latch.
type Sleeper interface {
	LightSleep(ctx context.Context, d time.Duration) retained.WakeCause
	DeepSleep(d time.Duration) error
	Shutdown()
}
