// Package app is the application controller: a single-goroutine state
// machine driving boot, provisioning, connect, sign-in, the poll cycle and
// the sleep policy. Everything time-dependent goes through the injected
// clock and wait hooks so the whole machine is testable without sleeping.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"statuspod/auth"
	"statuspod/bus"
	"statuspod/errcode"
	"statuspod/netlink"
	"statuspod/power"
	"statuspod/presence"
	"statuspod/retained"
	"statuspod/services/config"
	"statuspod/storage"
	"statuspod/types"
	"statuspod/x/clockx"
)

const (
	// AuthFatalBudget is how many parsed sign-in rejections the device-code
	// loop tolerates before giving up. Pending and transient never count.
	AuthFatalBudget = 5

	// PollFailureBudget is how many consecutive failed presence polls are
	// ridden out (keeping the last displayed state) before the link is
	// considered lost and the machine reconnects.
	PollFailureBudget = 5

	// HoldGesture mirrors the input package's long-press threshold.
	HoldGesture = 3 * time.Second

	bootGrace   = 250 * time.Millisecond
	menuTimeout = 30 * time.Second
)

type State uint8

const (
	StateBoot State = iota
	StateSetup
	StateConnecting
	StateAuthenticating
	StateRunning
	StateError
	stateHalt // power handed to the Sleeper; the process is done
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateSetup:
		return "setup"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	}
	return "halt"
}

// Provisioner is the gateway contract the controller blocks on in SETUP.
type Provisioner interface {
	HasCredentials() bool
	// Begin serves provisioning until a complete credential set is
	// committed or ctx is cancelled.
	Begin(ctx context.Context) error
}

// DeviceFlow is the device-code half of the Teams backend; nil for
// platforms that sign in silently.
type DeviceFlow interface {
	LoadPersisted() error
	HasStoredRefreshToken() bool
	StartDeviceCode(ctx context.Context) (auth.DeviceCode, error)
	PollToken(ctx context.Context, dc auth.DeviceCode) (auth.PollResult, error)
}

// Factories build the platform-specific pieces once credentials are known.
type Factories struct {
	Auth   func(types.Credentials) (auth.Backend, DeviceFlow)
	Poller func(types.Credentials) presence.Poller
}

// DefaultFactories wires the real Teams/Zoom backends.
func DefaultFactories(store storage.Store, clock clockx.Clock, hc *http.Client, log *slog.Logger) Factories {
	return Factories{
		Auth: func(c types.Credentials) (auth.Backend, DeviceFlow) {
			if c.Platform == types.PlatformZoom {
				return auth.NewZoom(c.TenantID, c.ClientID, c.ClientSecret, clock, hc, log), nil
			}
			t := auth.NewTeams(c.ClientID, c.TenantID, store, clock, hc, log)
			return t, t
		},
		Poller: func(c types.Credentials) presence.Poller {
			if c.Platform == types.PlatformZoom {
				return presence.NewZoom(hc, log)
			}
			return presence.NewTeams(hc, log)
		},
	}
}

// Config carries the controller's dependencies.
type Config struct {
	Log       *slog.Logger
	Clock     clockx.Clock
	Bus       *bus.Bus
	Store     storage.Store
	Region    retained.Region
	Wake      retained.WakeCause
	Link      netlink.Link
	Sleeper   power.Sleeper
	Battery   *power.Monitor
	Gateway   Provisioner
	Factories Factories

	// PollOverride, when nonzero, wins over the stored settings.
	PollOverride time.Duration
}

type Controller struct {
	log     *slog.Logger
	clock   clockx.Clock
	conn    *bus.Connection
	store   storage.Store
	region  retained.Region
	wake    retained.WakeCause
	link    netlink.Link
	sleeper power.Sleeper
	battery *power.Monitor
	gateway Provisioner
	fact    Factories

	auth   auth.Backend
	device DeviceFlow
	poller presence.Poller

	creds        types.Credentials
	settings     types.Settings
	hours        *power.OfficeHours
	pollOverride time.Duration

	lastAvail    types.Availability
	lastActivity string
	stableCycles uint8
	pollFailures int
	lastErr      string

	buttons *bus.Subscription

	// test seams; real implementations by default
	wait  func(ctx context.Context, d time.Duration) error
	after func(d time.Duration) <-chan time.Time
}

func New(cfg Config) *Controller {
	conn := cfg.Bus.NewConnection("app")
	c := &Controller{
		log:          cfg.Log.With("service", "app"),
		clock:        cfg.Clock,
		conn:         conn,
		store:        cfg.Store,
		region:       cfg.Region,
		wake:         cfg.Wake,
		link:         cfg.Link,
		sleeper:      cfg.Sleeper,
		battery:      cfg.Battery,
		gateway:      cfg.Gateway,
		fact:         cfg.Factories,
		pollOverride: cfg.PollOverride,
		buttons:      conn.Subscribe(types.TopicButtonAny),
		wait:         sleepWait,
		after:        time.After,
	}
	return c
}

func sleepWait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drives the machine until halt or ctx cancellation.
func (c *Controller) Run(ctx context.Context) error {
	st := StateBoot
	for st != stateHalt {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.setState(st)
		switch st {
		case StateBoot:
			st = c.boot(ctx)
		case StateSetup:
			st = c.setup(ctx)
		case StateConnecting:
			st = c.connecting(ctx)
		case StateAuthenticating:
			st = c.authenticating(ctx)
		case StateRunning:
			st = c.running(ctx)
		case StateError:
			st = c.errorState(ctx)
		}
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.log.Info("state", "state", s.String())
	c.conn.Publish(c.conn.NewMessage(types.TopicAppState, s.String(), true))
}

// -----------------------------------------------------------------------------
// BOOT
// -----------------------------------------------------------------------------

func (c *Controller) boot(ctx context.Context) State {
	c.render(types.ScreenRequest{Kind: types.ScreenSplash})

	st, ok := retained.Load(c.region, c.wake)
	if ok && !st.DeepSleepArmed {
		// Valid region but no deep sleep was armed: a stray timer or button
		// wake after an unclean stop. Trust nothing.
		c.log.Warn("retained state present but not armed; discarding", "wake", c.wake.String())
		ok = false
	}
	if ok {
		c.stableCycles = st.StableCycles
		c.lastAvail = st.LastAvailability
		c.log.Info("retained state restored",
			"wake", c.wake.String(), "stable_cycles", st.StableCycles, "availability", st.LastAvailability)
	} else {
		c.stableCycles = 0
		c.lastAvail = ""
		c.log.Info("retained state discarded", "wake", c.wake.String())
	}

	if c.factoryResetRequested(ctx) {
		return c.factoryReset()
	}

	c.settings = config.LoadSettings(c.store, c.log)
	config.PublishSettings(c.conn, c.settings)
	c.rebuildOfficeHours()

	creds, ok, err := config.LoadCredentials(c.store)
	if err != nil {
		c.log.Error("credential load failed", "err", err)
	}
	if !ok {
		return StateSetup
	}
	c.creds = creds
	return StateConnecting
}

// factoryResetRequested watches for the primary button held through the
// splash. Only a press that begins within the boot grace window counts.
func (c *Controller) factoryResetRequested(ctx context.Context) bool {
	_ = c.wait(ctx, bootGrace)

	pressed := false
	for {
		select {
		case m := <-c.buttons.Channel():
			ev := m.Payload.(types.ButtonEvent)
			if ev.ID != types.ButtonPrimary {
				continue
			}
			switch ev.Action {
			case types.ButtonPressed:
				pressed = true
			case types.ButtonHeld:
				return true
			case types.ButtonReleased:
				return false
			}
		default:
			if !pressed {
				return false
			}
			// Pressed but not yet held: keep watching until the gesture
			// resolves one way or the other.
			if err := c.wait(ctx, 50*time.Millisecond); err != nil {
				return false
			}
		}
	}
}

func (c *Controller) factoryReset() State {
	c.log.Warn("factory reset")
	if err := c.store.Erase(storage.NSCredentials); err != nil {
		c.log.Error("credential erase failed", "err", err)
	}
	if err := c.store.Erase(storage.NSAuth); err != nil {
		c.log.Error("auth erase failed", "err", err)
	}
	if err := retained.Clear(c.region); err != nil {
		c.log.Error("retained clear failed", "err", err)
	}
	c.creds = types.Credentials{}
	c.auth, c.device, c.poller = nil, nil, nil
	c.lastAvail, c.stableCycles = "", 0
	c.notify(types.NotifyConfirm)
	return StateBoot
}

// -----------------------------------------------------------------------------
// SETUP
// -----------------------------------------------------------------------------

func (c *Controller) setup(ctx context.Context) State {
	c.render(types.ScreenRequest{Kind: types.ScreenSetup})
	if err := c.gateway.Begin(ctx); err != nil {
		if ctx.Err() != nil {
			return stateHalt
		}
		c.lastErr = "Provisioning failed"
		c.log.Error("provisioning failed", "err", err)
		return StateError
	}
	c.notify(types.NotifyConfirm)
	// Committed credentials take effect through a clean boot pass.
	return StateBoot
}

// -----------------------------------------------------------------------------
// CONNECTING
// -----------------------------------------------------------------------------

func (c *Controller) connecting(ctx context.Context) State {
	if err := c.link.Up(ctx, c.creds.SSID, c.creds.Password); err != nil {
		c.lastErr = "WiFi Failed"
		c.log.Error("link up failed", "ssid", c.creds.SSID, "err", err)
		return StateError
	}
	c.log.Info("link up", "ssid", c.creds.SSID)

	c.auth, c.device = c.fact.Auth(c.creds)
	c.poller = c.fact.Poller(c.creds)
	if c.device != nil {
		if err := c.device.LoadPersisted(); err != nil {
			c.log.Error("persisted auth load failed", "err", err)
		}
	}
	return StateAuthenticating
}

// -----------------------------------------------------------------------------
// ERROR
// -----------------------------------------------------------------------------

func (c *Controller) errorState(ctx context.Context) State {
	c.render(types.ScreenRequest{
		Kind:   types.ScreenError,
		Title:  c.lastErr,
		Detail: "Hold top button to restart",
	})
	c.notify(types.NotifyError)

	for {
		select {
		case <-ctx.Done():
			return stateHalt
		case m := <-c.buttons.Channel():
			ev := m.Payload.(types.ButtonEvent)
			if ev.Action != types.ButtonHeld {
				continue
			}
			switch ev.ID {
			case types.ButtonPrimary:
				c.lastErr = ""
				return StateBoot
			case types.ButtonSecondary:
				return c.powerOff()
			}
		}
	}
}

// -----------------------------------------------------------------------------
// shared helpers
// -----------------------------------------------------------------------------

func (c *Controller) render(req types.ScreenRequest) {
	c.conn.Publish(c.conn.NewMessage(types.TopicScreenRequest, req, false))
}

func (c *Controller) notify(kind types.NotifyKind) {
	c.conn.Publish(c.conn.NewMessage(types.TopicNotify, kind, false))
}

func (c *Controller) pollInterval() time.Duration {
	if c.pollOverride > 0 {
		return c.pollOverride
	}
	return c.settings.PollInterval
}

func (c *Controller) rebuildOfficeHours() {
	h, err := power.NewOfficeHours(c.settings.OfficeHours)
	if err != nil {
		c.log.Error("office hours config invalid; disabled", "err", err)
		c.hours = nil
		return
	}
	c.hours = h
}

// powerOff runs the clean shutdown path and halts the machine.
func (c *Controller) powerOff() State {
	c.log.Info("powering off")
	c.render(types.ScreenRequest{Kind: types.ScreenShutdown})
	c.notify(types.NotifyBeep)
	// Lights go dark with the retained presence cleared.
	c.conn.Publish(c.conn.NewMessage(types.TopicPresence, types.Presence{}, true))
	if err := retained.Clear(c.region); err != nil {
		c.log.Error("retained clear failed", "err", err)
	}
	c.sleeper.Shutdown()
	return stateHalt
}

func isAuthLost(err error) bool {
	switch errcode.Of(err) {
	case errcode.Unauthorized, errcode.AuthRejected, errcode.AuthExpired, errcode.NoCredentials:
		return true
	}
	return false
}
