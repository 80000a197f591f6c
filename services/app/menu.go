package app

import (
	"context"
	"strconv"
	"time"

	"statuspod/services/config"
	"statuspod/services/lights"
	"statuspod/types"
)

// Menu entries. Primary advances the cursor, secondary selects.
const (
	menuStatus = iota
	menuDeviceInfo
	menuAuthInfo
	menuAudio
	menuInvert
	menuLight
	menuLightTest
	menuProvision
	menuExit
	menuCount
)

func (c *Controller) menuLines() []string {
	lc := config.LoadLightConfig(c.store, c.creds, c.log)
	return []string{
		"Status",
		"Device Info",
		"Auth Info",
		"Audio Alerts: " + onOff(c.settings.AudioAlerts),
		"Invert Display: " + onOff(c.settings.InvertDisplay),
		"Light: " + lightName(lc.Type),
		"Light Test",
		"Re-Provision",
		"Exit",
	}
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

func lightName(t int) string {
	switch t {
	case lights.TypeWLED:
		return "WLED"
	case lights.TypeBulb:
		return "Bulb"
	}
	return "Off"
}

// runMenu owns the screen until the user exits, the menu times out, or a
// power-off gesture arrives (returned so the caller can act on it).
func (c *Controller) runMenu(ctx context.Context) uiEvent {
	sel := 0
	c.renderMenu(sel)

	for {
		timer := c.after(menuTimeout)
		select {
		case <-ctx.Done():
			return uiCancelled
		case <-timer:
			return uiNone

		case m := <-c.buttons.Channel():
			switch classify(m.Payload.(types.ButtonEvent)) {
			case uiRefresh: // primary short press: advance
				sel = (sel + 1) % menuCount
				c.notify(types.NotifyClick)
				c.renderMenu(sel)

			case uiMenu: // secondary short press: select
				c.notify(types.NotifyClick)
				switch sel {
				case menuStatus, menuExit:
					return uiNone
				case menuDeviceInfo:
					c.render(types.ScreenRequest{
						Kind:  types.ScreenDeviceInfo,
						Lines: c.deviceInfoLines(),
					})
					if ev := c.waitAnyButton(ctx); ev != uiNone {
						return ev
					}
					c.renderMenu(sel)
				case menuAuthInfo:
					c.render(types.ScreenRequest{
						Kind:  types.ScreenAuthInfo,
						Lines: c.authInfoLines(),
					})
					if ev := c.waitAnyButton(ctx); ev != uiNone {
						return ev
					}
					c.renderMenu(sel)
				case menuAudio:
					c.settings.AudioAlerts = !c.settings.AudioAlerts
					c.saveSettings()
					c.renderMenu(sel)
				case menuInvert:
					c.settings.InvertDisplay = !c.settings.InvertDisplay
					c.saveSettings()
					c.renderMenu(sel)
				case menuLight:
					c.cycleLightType()
					c.renderMenu(sel)
				case menuLightTest:
					c.lightTest(ctx)
					c.renderMenu(sel)
				case menuProvision:
					return uiProvision
				}

			case uiPowerOff:
				return uiPowerOff
			}
		}
	}
}

func (c *Controller) renderMenu(sel int) {
	c.render(types.ScreenRequest{
		Kind:     types.ScreenMenu,
		Partial:  true,
		Lines:    c.menuLines(),
		Selected: sel,
	})
}

// cycleLightType steps to the next light type (Off, WLED, Bulb) and
// persists the override. Takes effect on the next start.
func (c *Controller) cycleLightType() {
	lc := config.LoadLightConfig(c.store, c.creds, c.log)
	lc.Type = (lc.Type + 1) % (lights.TypeBulb + 1)
	if err := config.SaveLightConfig(c.store, lc); err != nil {
		c.log.Error("light config save failed", "err", err)
	}
}

// lightTest walks the light through its three colors over the presence
// topic, then restores the displayed state.
func (c *Controller) lightTest(ctx context.Context) {
	for _, a := range []types.Availability{types.Available, types.Busy, types.Away} {
		c.conn.Publish(c.conn.NewMessage(types.TopicPresence,
			types.Presence{Availability: a, Valid: true}, false))
		if err := c.wait(ctx, time.Second); err != nil {
			return
		}
	}
	c.conn.Publish(c.conn.NewMessage(types.TopicPresence, types.Presence{
		Availability: c.lastAvail,
		Activity:     c.lastActivity,
		Valid:        c.lastAvail != "",
	}, true))
}

// waitAnyButton parks on an info screen until a press or the menu timeout.
// Power-off gestures still win.
func (c *Controller) waitAnyButton(ctx context.Context) uiEvent {
	timer := c.after(menuTimeout)
	for {
		select {
		case <-ctx.Done():
			return uiCancelled
		case <-timer:
			return uiNone
		case m := <-c.buttons.Channel():
			ev := m.Payload.(types.ButtonEvent)
			if classify(ev) == uiPowerOff {
				return uiPowerOff
			}
			if ev.Action == types.ButtonReleased {
				return uiNone
			}
		}
	}
}

func (c *Controller) saveSettings() {
	if err := config.SaveSettings(c.store, c.settings); err != nil {
		c.log.Error("settings save failed", "err", err)
	}
	config.PublishSettings(c.conn, c.settings)
	c.rebuildOfficeHours()
}

func (c *Controller) deviceInfoLines() []string {
	lines := []string{
		"Platform: " + c.creds.Platform.String(),
		"SSID: " + c.creds.SSID,
		"Interval: " + c.pollInterval().String(),
	}
	if st, err := c.battery.Status(); err == nil {
		lines = append(lines, "Battery: "+strconv.Itoa(st.Percent)+"%")
	}
	return lines
}

func (c *Controller) authInfoLines() []string {
	if c.auth == nil {
		return []string{"Not signed in"}
	}
	exp := c.auth.TokenExpiry()
	if exp.IsZero() {
		return []string{"No token"}
	}
	return []string{
		"Token expires:",
		exp.Format(time.RFC3339),
	}
}
