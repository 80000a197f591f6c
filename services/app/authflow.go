package app

import (
	"context"
	"time"

	"statuspod/auth"
	"statuspod/errcode"
	"statuspod/types"
)

// zoomRetries bounds silent sign-in attempts when the failure is transient.
const zoomRetries = 3

func (c *Controller) authenticating(ctx context.Context) State {
	if c.device == nil {
		return c.silentSignIn(ctx)
	}

	// Stored refresh token first: a successful silent refresh skips the
	// whole interactive flow.
	if c.device.HasStoredRefreshToken() {
		if err := c.auth.Refresh(ctx); err == nil {
			c.log.Info("signed in via stored refresh token")
			return StateRunning
		}
		// Refresh failure already invalidated the stored token; fall
		// through to a fresh device-code flow.
		c.log.Warn("stored refresh token unusable; starting device-code flow")
	}
	return c.deviceCodeFlow(ctx)
}

// silentSignIn is the client-credentials path: no user interaction, so a
// non-transient failure goes straight to the error screen.
func (c *Controller) silentSignIn(ctx context.Context) State {
	var err error
	for attempt := 0; attempt < zoomRetries; attempt++ {
		if err = c.auth.Refresh(ctx); err == nil {
			return StateRunning
		}
		if !errcode.IsTransient(err) {
			break
		}
		if werr := c.wait(ctx, 2*time.Second); werr != nil {
			return stateHalt
		}
	}
	c.lastErr = "Sign-in failed"
	c.log.Error("silent sign-in failed", "err", err)
	return StateError
}

func (c *Controller) deviceCodeFlow(ctx context.Context) State {
	dc, err := c.device.StartDeviceCode(ctx)
	if err != nil {
		c.lastErr = "Sign-in unavailable"
		c.log.Error("device code request failed", "err", err)
		return StateError
	}

	qrView := true
	c.renderAuthScreen(dc, qrView)

	deadline := c.clock.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)
	interval := time.Duration(dc.Interval) * time.Second
	fatals := 0

	for {
		if err := c.wait(ctx, interval); err != nil {
			return stateHalt
		}

		// Cooperative interaction point, once per poll tick: a short
		// primary press flips between the QR view and the code view.
		if c.drainAuthButtons() {
			qrView = !qrView
			c.renderAuthScreen(dc, qrView)
		}

		if c.clock.Now().After(deadline) {
			c.lastErr = "Sign-in expired"
			c.log.Warn("device code expired before sign-in")
			return StateError
		}

		res, perr := c.device.PollToken(ctx, dc)
		switch res {
		case auth.PollSuccess:
			if perr != nil {
				// Signed in, but the refresh token did not persist: the next
				// reboot will need a fresh interactive sign-in.
				c.log.Error("refresh token not persisted", "err", perr)
			}
			c.notify(types.NotifyConfirm)
			return StateRunning

		case auth.PollPending:
			// Waiting on the user, or a transient server wobble. Neither
			// consumes the fatal budget.
			if perr != nil && !errcode.IsAuthPending(perr) {
				c.log.Debug("token poll transient", "err", perr)
			}

		case auth.PollFatal:
			if errcode.Of(perr) == errcode.AuthExpired {
				c.lastErr = "Sign-in expired"
				return StateError
			}
			fatals++
			c.log.Warn("token poll rejected", "err", perr, "fatals", fatals)
			if fatals >= AuthFatalBudget {
				c.lastErr = "Sign-in rejected"
				return StateError
			}
		}
	}
}

func (c *Controller) renderAuthScreen(dc auth.DeviceCode, qrView bool) {
	if qrView {
		c.render(types.ScreenRequest{
			Kind:     types.ScreenQRAuth,
			UserCode: dc.UserCode,
			QRURL:    dc.QRURL,
		})
		return
	}
	c.render(types.ScreenRequest{
		Kind: types.ScreenAuthInfo,
		Lines: []string{
			"Go to:",
			dc.VerificationURI,
			"Enter code:",
			dc.UserCode,
		},
	})
}

// drainAuthButtons consumes queued button events during the device-code
// loop and reports whether the view-toggle gesture occurred.
func (c *Controller) drainAuthButtons() bool {
	toggled := false
	for {
		select {
		case m := <-c.buttons.Channel():
			ev := m.Payload.(types.ButtonEvent)
			if ev.ID == types.ButtonPrimary && ev.Action == types.ButtonReleased && ev.Hold < HoldGesture {
				toggled = true
				c.notify(types.NotifyClick)
			}
		default:
			return toggled
		}
	}
}
