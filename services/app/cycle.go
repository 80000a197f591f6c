package app

import (
	"context"
	"time"

	"statuspod/errcode"
	"statuspod/power"
	"statuspod/retained"
	"statuspod/types"
)

// uiEvent classifies button activity observed while RUNNING.
type uiEvent uint8

const (
	uiNone uiEvent = iota
	uiRefresh
	uiMenu
	uiPowerOff
	uiProvision
	uiCancelled
)

func (c *Controller) running(ctx context.Context) State {
	c.pollFailures = 0
	force := true // immediate fetch-and-render on every entry

	for {
		if ctx.Err() != nil {
			return stateHalt
		}

		decision, err := c.cycle(ctx, force)
		force = false
		if err != nil {
			if isAuthLost(err) {
				c.log.Warn("auth lost; re-authenticating", "err", err)
				// Lights go dark until the new sign-in completes.
				c.conn.Publish(c.conn.NewMessage(types.TopicPresence, types.Presence{}, true))
				return StateAuthenticating
			}
			if errcode.Of(err) == errcode.LinkDown {
				c.log.Warn("poll failure budget exhausted; reconnecting", "err", err)
				c.link.Down()
				return StateConnecting
			}
			c.log.Error("cycle failed", "err", err)
		}

		switch decision.Action {
		case power.ShutdownNow:
			c.render(types.ScreenRequest{
				Kind:     types.ScreenLowBattery,
				Critical: true,
				Percent:  power.ShutdownPercent,
			})
			return c.powerOff()

		case power.DeepSleep:
			st := retained.State{
				DeepSleepArmed:   true,
				StableCycles:     decision.StableCycles,
				LastAvailability: c.lastAvail,
			}
			if err := retained.Save(c.region, st); err != nil {
				// Without committed retained state a deep sleep would come
				// back as a cold boot; degrade to light sleep instead.
				c.log.Error("retained save failed; light sleeping", "err", err)
				c.sleeper.LightSleep(ctx, decision.SleepFor)
				continue
			}
			c.log.Info("deep sleeping", "for", decision.SleepFor)
			if err := c.sleeper.DeepSleep(decision.SleepFor); err != nil {
				c.log.Error("deep sleep failed", "err", err)
				continue
			}
			return stateHalt

		case power.LightSleep:
			cause := c.sleeper.LightSleep(ctx, decision.SleepFor)
			if cause == retained.WakeButton {
				// The press that woke us doubles as a manual refresh.
				c.drainButtonQueue()
				force = true
			}

		case power.StayAwake, power.IdleWait:
			switch c.interactiveWait(ctx, decision.SleepFor) {
			case uiRefresh:
				c.notify(types.NotifyClick)
				force = true
			case uiMenu:
				switch c.runMenu(ctx) {
				case uiPowerOff:
					return c.powerOff()
				case uiProvision:
					// Re-provisioning keeps the current credentials until
					// the new set commits; no factory reset involved.
					return StateSetup
				}
				force = true // redraw status after the menu closes
			case uiPowerOff:
				return c.powerOff()
			case uiCancelled:
				return stateHalt
			}
		}
	}
}

// cycle is one poll pass: refresh if needed, fetch presence, dispatch
// render/notify on change, read the battery and run the sleep policy.
func (c *Controller) cycle(ctx context.Context, force bool) (power.Decision, error) {
	now := c.clock.Now()

	if c.auth.ExpiringSoon(now) {
		if err := c.auth.Refresh(ctx); err != nil {
			if !errcode.IsTransient(err) {
				return power.Decision{}, err
			}
			if !c.auth.HasValidToken(now) {
				return c.failedPoll(err)
			}
			c.log.Warn("proactive refresh failed; token still valid", "err", err)
		}
	}

	pres, err := c.poller.Poll(ctx, c.auth.AccessToken())
	if errcode.Of(err) == errcode.Unauthorized {
		// One refresh-and-retry; a second 401 means auth is really gone.
		if rerr := c.auth.Refresh(ctx); rerr != nil {
			if errcode.IsTransient(rerr) {
				return c.failedPoll(rerr)
			}
			return power.Decision{}, rerr
		}
		pres, err = c.poller.Poll(ctx, c.auth.AccessToken())
	}
	if err != nil {
		if errcode.Of(err) == errcode.Unauthorized {
			return power.Decision{}, err
		}
		return c.failedPoll(err)
	}
	c.pollFailures = 0

	changed := pres.Availability != c.lastAvail
	if changed || force {
		c.lastAvail = pres.Availability
		c.lastActivity = pres.Activity
		c.conn.Publish(c.conn.NewMessage(types.TopicPresence, pres, true))
		c.render(types.ScreenRequest{
			Kind:         types.ScreenStatus,
			Partial:      true,
			Availability: pres.Availability,
			Activity:     pres.Activity,
		})
		if changed {
			c.notify(types.NotifyAttention)
		}
	}

	return c.decide(now, changed), nil
}

// failedPoll keeps the previously displayed state and rides out up to
// PollFailureBudget consecutive failures before reporting the link lost.
func (c *Controller) failedPoll(err error) (power.Decision, error) {
	c.pollFailures++
	c.log.Warn("poll failed; keeping last state",
		"err", err, "failures", c.pollFailures)
	if c.pollFailures >= PollFailureBudget {
		return power.Decision{}, errcode.Wrap(errcode.LinkDown, "app.cycle",
			"poll failure budget exhausted", err)
	}
	return c.decideWith(c.clock.Now(), false, true), nil
}

func (c *Controller) decide(now time.Time, changed bool) power.Decision {
	return c.decideWith(now, changed, false)
}

func (c *Controller) decideWith(now time.Time, changed, unknown bool) power.Decision {
	battery := c.batteryStatus()
	d := power.Decide(power.Input{
		Now:          now,
		Changed:      changed,
		Unknown:      unknown,
		Battery:      battery,
		StableCycles: c.stableCycles,
		PollInterval: c.pollInterval(),
		Hours:        c.hours,
	})
	c.stableCycles = d.StableCycles
	return d
}

// batteryStatus reads and publishes the battery. A reader failure is
// treated as external power so a broken gauge can never shut the pod down.
func (c *Controller) batteryStatus() types.BatteryStatus {
	st, err := c.battery.Status()
	if err != nil {
		c.log.Error("battery read failed", "err", err)
		return types.BatteryStatus{Percent: 100, OnExternalPower: true}
	}
	c.conn.Publish(c.conn.NewMessage(types.TopicBattery, st, true))
	if c.battery.ShouldWarn(st) {
		c.render(types.ScreenRequest{
			Kind:    types.ScreenLowBattery,
			Percent: st.Percent,
		})
		c.notify(types.NotifyLowBattery)
	}
	return st
}

// interactiveWait blocks up to d, returning early on a meaningful gesture.
func (c *Controller) interactiveWait(ctx context.Context, d time.Duration) uiEvent {
	timer := c.after(d)
	for {
		select {
		case <-ctx.Done():
			return uiCancelled
		case <-timer:
			return uiNone
		case m := <-c.buttons.Channel():
			if ev := classify(m.Payload.(types.ButtonEvent)); ev != uiNone {
				return ev
			}
		}
	}
}

func classify(ev types.ButtonEvent) uiEvent {
	switch {
	case ev.ID == types.ButtonPrimary && ev.Action == types.ButtonReleased && ev.Hold < HoldGesture:
		return uiRefresh
	case ev.ID == types.ButtonSecondary && ev.Action == types.ButtonReleased && ev.Hold < HoldGesture:
		return uiMenu
	case ev.ID == types.ButtonSecondary && ev.Action == types.ButtonHeld:
		return uiPowerOff
	}
	return uiNone
}

func (c *Controller) drainButtonQueue() {
	for {
		select {
		case <-c.buttons.Channel():
		default:
			return
		}
	}
}
