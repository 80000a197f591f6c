package app

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"statuspod/auth"
	"statuspod/bus"
	"statuspod/errcode"
	"statuspod/power"
	"statuspod/presence"
	"statuspod/retained"
	"statuspod/services/config"
	"statuspod/services/lights"
	"statuspod/storage"
	"statuspod/types"
	"statuspod/x/clockx"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

var testTime = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // Monday

// -----------------------------------------------------------------------------
// fakes
// -----------------------------------------------------------------------------

type fakeAuth struct {
	token       string
	expiry      time.Time
	expSoon     bool
	refreshErrs []error
	refreshes   int
}

func (f *fakeAuth) HasValidToken(now time.Time) bool {
	return f.token != "" && now.Before(f.expiry)
}
func (f *fakeAuth) ExpiringSoon(now time.Time) bool { return f.expSoon }
func (f *fakeAuth) Refresh(ctx context.Context) error {
	f.refreshes++
	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		if err != nil {
			return err
		}
	}
	f.token = "tok"
	f.expiry = testTime.Add(time.Hour)
	f.expSoon = false
	return nil
}
func (f *fakeAuth) AccessToken() string    { return f.token }
func (f *fakeAuth) TokenExpiry() time.Time { return f.expiry }
func (f *fakeAuth) Logout() error          { f.token = ""; return nil }

type pollStep struct {
	pres types.Presence
	err  error
}

type fakePoller struct {
	steps []pollStep
	calls int
}

func (f *fakePoller) Poll(ctx context.Context, token string) (types.Presence, error) {
	f.calls++
	if len(f.steps) == 0 {
		return types.Presence{}, errcode.TransientNetwork
	}
	s := f.steps[0]
	if len(f.steps) > 1 {
		f.steps = f.steps[1:]
	}
	return s.pres, s.err
}

type fakeSleeper struct {
	light     []time.Duration
	deep      []time.Duration
	wake      retained.WakeCause
	shutdowns int
}

func (f *fakeSleeper) LightSleep(ctx context.Context, d time.Duration) retained.WakeCause {
	f.light = append(f.light, d)
	if f.wake == retained.WakeColdBoot {
		return retained.WakeTimer
	}
	return f.wake
}
func (f *fakeSleeper) DeepSleep(d time.Duration) error {
	f.deep = append(f.deep, d)
	return nil
}
func (f *fakeSleeper) Shutdown() { f.shutdowns++ }

type fakeVolts struct{ v float64 }

func (f *fakeVolts) ReadVoltage() (float64, error) { return f.v, nil }

type fakeLink struct {
	upErr error
	ups   int
}

func (f *fakeLink) Up(ctx context.Context, ssid, pw string) error { f.ups++; return f.upErr }
func (f *fakeLink) Down()                                         {}
func (f *fakeLink) IsUp() bool                                    { return f.upErr == nil }

type fakeGateway struct {
	beginErr error
	begun    int
}

func (f *fakeGateway) HasCredentials() bool            { return false }
func (f *fakeGateway) Begin(ctx context.Context) error { f.begun++; return f.beginErr }

type scriptedDevice struct {
	dc      auth.DeviceCode
	results []auth.PollResult
	errs    []error
	polls   int
}

func (d *scriptedDevice) LoadPersisted() error        { return nil }
func (d *scriptedDevice) HasStoredRefreshToken() bool { return false }
func (d *scriptedDevice) StartDeviceCode(ctx context.Context) (auth.DeviceCode, error) {
	return d.dc, nil
}
func (d *scriptedDevice) PollToken(ctx context.Context, dc auth.DeviceCode) (auth.PollResult, error) {
	i := d.polls
	d.polls++
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	return d.results[i], err
}

// -----------------------------------------------------------------------------
// harness
// -----------------------------------------------------------------------------

type harness struct {
	c       *Controller
	clock   *clockx.Fake
	auth    *fakeAuth
	poller  *fakePoller
	sleeper *fakeSleeper
	volts   *fakeVolts
	store   *storage.Memory
	region  *retained.Mem
	screens *bus.Subscription
	notes   *bus.Subscription
	conn    *bus.Connection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := bus.NewBus(32)
	clock := clockx.NewFake(testTime)
	store := storage.NewMemory()
	volts := &fakeVolts{v: 3.7}
	sleeper := &fakeSleeper{wake: retained.WakeTimer}
	region := &retained.Mem{}
	fa := &fakeAuth{token: "tok", expiry: testTime.Add(time.Hour)}
	fp := &fakePoller{}

	c := New(Config{
		Log:     testLogger(),
		Clock:   clock,
		Bus:     b,
		Store:   store,
		Region:  region,
		Wake:    retained.WakeColdBoot,
		Link:    &fakeLink{},
		Sleeper: sleeper,
		Battery: power.NewMonitor(volts, testLogger()),
		Gateway: &fakeGateway{},
		Factories: Factories{
			Auth:   func(types.Credentials) (auth.Backend, DeviceFlow) { return fa, nil },
			Poller: func(types.Credentials) presence.Poller { return fp },
		},
	})
	c.auth = fa
	c.poller = fp
	c.settings = types.DefaultSettings()
	c.wait = func(ctx context.Context, d time.Duration) error { return nil }
	c.after = func(d time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- testTime
		return ch
	}

	obs := b.NewConnection("test")
	return &harness{
		c: c, clock: clock, auth: fa, poller: fp, sleeper: sleeper,
		volts: volts, store: store, region: region,
		screens: obs.Subscribe(types.TopicScreenRequest),
		notes:   obs.Subscribe(types.TopicNotify),
		conn:    obs,
	}
}

func (h *harness) drainScreens() []types.ScreenRequest {
	var out []types.ScreenRequest
	for {
		select {
		case m := <-h.screens.Channel():
			out = append(out, m.Payload.(types.ScreenRequest))
		default:
			return out
		}
	}
}

func (h *harness) drainNotes() []types.NotifyKind {
	var out []types.NotifyKind
	for {
		select {
		case m := <-h.notes.Channel():
			out = append(out, m.Payload.(types.NotifyKind))
		default:
			return out
		}
	}
}

func (h *harness) pressButton(id types.ButtonID, action types.ButtonAction, hold time.Duration) {
	h.conn.Publish(h.conn.NewMessage(types.TopicButton(id),
		types.ButtonEvent{ID: id, Action: action, Hold: hold}, false))
}

func available() pollStep {
	return pollStep{pres: types.Presence{Availability: types.Available, Valid: true}}
}

func busy() pollStep {
	return pollStep{pres: types.Presence{Availability: types.Busy, Valid: true}}
}

// -----------------------------------------------------------------------------
// poll cycle
// -----------------------------------------------------------------------------

func TestStableCyclesAccumulateToDeepSleep(t *testing.T) {
	h := newHarness(t)
	h.c.lastAvail = types.Available
	h.poller.steps = []pollStep{available()}

	d, err := h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, power.LightSleep, d.Action)
	require.Equal(t, uint8(1), h.c.stableCycles)

	d, err = h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, power.LightSleep, d.Action)
	require.Equal(t, uint8(2), h.c.stableCycles)

	d, err = h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, power.DeepSleep, d.Action)
	require.Equal(t, uint8(3), h.c.stableCycles)
}

func TestChangeRendersOnceAndResetsCycles(t *testing.T) {
	h := newHarness(t)
	h.c.lastAvail = types.Available
	h.c.stableCycles = 2
	h.poller.steps = []pollStep{busy()}

	d, err := h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, power.StayAwake, d.Action)
	require.Equal(t, uint8(0), h.c.stableCycles)
	require.Equal(t, types.Busy, h.c.lastAvail)

	screens := h.drainScreens()
	require.Len(t, screens, 1, "exactly one render per change")
	require.Equal(t, types.ScreenStatus, screens[0].Kind)
	require.Equal(t, types.Busy, screens[0].Availability)
	require.Contains(t, h.drainNotes(), types.NotifyAttention)
}

func TestUnchangedPollDoesNotRender(t *testing.T) {
	h := newHarness(t)
	h.c.lastAvail = types.Available
	h.poller.steps = []pollStep{available()}

	_, err := h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, h.drainScreens())
	require.Empty(t, h.drainNotes())
}

func TestForcedCycleRendersEvenWhenUnchanged(t *testing.T) {
	h := newHarness(t)
	h.c.lastAvail = types.Available
	h.poller.steps = []pollStep{available()}

	_, err := h.c.cycle(context.Background(), true)
	require.NoError(t, err)

	screens := h.drainScreens()
	require.Len(t, screens, 1)
	require.Equal(t, types.ScreenStatus, screens[0].Kind)
	// unchanged: a forced render must not chime
	require.Empty(t, h.drainNotes())
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	h := newHarness(t)
	h.poller.steps = []pollStep{
		{err: errcode.Wrap(errcode.Unauthorized, "test", "", nil)},
		available(),
	}

	_, err := h.c.cycle(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 1, h.auth.refreshes)
	require.Equal(t, 2, h.poller.calls)
}

func TestUnauthorizedWithRejectedRefreshLosesAuth(t *testing.T) {
	h := newHarness(t)
	h.poller.steps = []pollStep{
		{err: errcode.Wrap(errcode.Unauthorized, "test", "", nil)},
	}
	h.auth.refreshErrs = []error{errcode.Wrap(errcode.AuthRejected, "test", "", nil)}

	_, err := h.c.cycle(context.Background(), true)
	require.Error(t, err)
	require.True(t, isAuthLost(err))
}

func TestProactiveRefreshWhenExpiringSoon(t *testing.T) {
	h := newHarness(t)
	h.auth.expSoon = true
	h.poller.steps = []pollStep{available()}

	_, err := h.c.cycle(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, 1, h.auth.refreshes)
}

func TestPollFailuresKeepLastStateThenReconnect(t *testing.T) {
	h := newHarness(t)
	h.c.lastAvail = types.Busy
	h.poller.steps = []pollStep{
		{err: errcode.Wrap(errcode.TransientNetwork, "test", "", nil)},
	}

	for i := 1; i < PollFailureBudget; i++ {
		d, err := h.c.cycle(context.Background(), false)
		require.NoError(t, err, "failure %d is ridden out", i)
		require.Equal(t, power.LightSleep, d.Action)
		require.Equal(t, types.Busy, h.c.lastAvail, "displayed state kept")
	}
	require.Empty(t, h.drainScreens(), "no render on failed polls")

	_, err := h.c.cycle(context.Background(), false)
	require.Error(t, err)
	require.Equal(t, errcode.LinkDown, errcode.Of(err))
}

func TestCriticalBatteryDecidesShutdown(t *testing.T) {
	h := newHarness(t)
	h.volts.v = 3.05 // ~4%
	h.c.lastAvail = types.Available
	h.poller.steps = []pollStep{available()}

	d, err := h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, power.ShutdownNow, d.Action)
}

func TestLowBatteryWarnsOnce(t *testing.T) {
	h := newHarness(t)
	h.volts.v = 3.15 // ~12%
	h.c.lastAvail = types.Available
	h.poller.steps = []pollStep{available()}

	_, err := h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	screens := h.drainScreens()
	require.Len(t, screens, 1)
	require.Equal(t, types.ScreenLowBattery, screens[0].Kind)
	require.Contains(t, h.drainNotes(), types.NotifyLowBattery)

	_, err = h.c.cycle(context.Background(), false)
	require.NoError(t, err)
	require.Empty(t, h.drainScreens(), "warning latched")
}

// -----------------------------------------------------------------------------
// boot + retained state
// -----------------------------------------------------------------------------

func TestBootColdDiscardsRetainedState(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, retained.Save(h.region, retained.State{
		DeepSleepArmed: true, StableCycles: 3, LastAvailability: types.Busy,
	}))

	h.c.wake = retained.WakeColdBoot
	st := h.c.boot(context.Background())
	require.Equal(t, StateSetup, st, "no credentials yet")
	require.Equal(t, uint8(0), h.c.stableCycles)
	require.Equal(t, types.Availability(""), h.c.lastAvail)
}

func TestBootTimerWakeRestoresRetainedState(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, retained.Save(h.region, retained.State{
		DeepSleepArmed: true, StableCycles: 3, LastAvailability: types.Busy,
	}))

	h.c.wake = retained.WakeTimer
	h.c.boot(context.Background())
	require.Equal(t, uint8(3), h.c.stableCycles)
	require.Equal(t, types.Busy, h.c.lastAvail)
}

func TestFactoryResetGestureErasesCredentialsAndAuth(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Put(storage.NSCredentials, "credentials", "{}"))
	require.NoError(t, h.store.Put(storage.NSAuth, "refresh_tok", "secret"))

	h.pressButton(types.ButtonPrimary, types.ButtonHeld, HoldGesture)
	st := h.c.boot(context.Background())
	require.Equal(t, StateBoot, st, "reset restarts the boot pass")

	_, ok, _ := h.store.Get(storage.NSCredentials, "credentials")
	require.False(t, ok)
	_, ok, _ = h.store.Get(storage.NSAuth, "refresh_tok")
	require.False(t, ok)
}

func TestShortBootPressDoesNotReset(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Put(storage.NSAuth, "refresh_tok", "secret"))

	h.pressButton(types.ButtonPrimary, types.ButtonPressed, 0)
	h.pressButton(types.ButtonPrimary, types.ButtonReleased, time.Second)
	h.c.boot(context.Background())

	_, ok, _ := h.store.Get(storage.NSAuth, "refresh_tok")
	require.True(t, ok)
}

func TestBootTimerWakeUnarmedDiscardsRetainedState(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, retained.Save(h.region, retained.State{
		StableCycles: 3, LastAvailability: types.Busy,
	}))

	h.c.wake = retained.WakeTimer
	h.c.boot(context.Background())
	require.Equal(t, uint8(0), h.c.stableCycles, "unarmed region is a stray wake")
	require.Equal(t, types.Availability(""), h.c.lastAvail)
}

// -----------------------------------------------------------------------------
// menu
// -----------------------------------------------------------------------------

// menuHarness keeps the menu timeout from firing so queued presses drive it.
func menuHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.c.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }
	return h
}

func (h *harness) advanceMenu(presses int) {
	for i := 0; i < presses; i++ {
		h.pressButton(types.ButtonPrimary, types.ButtonReleased, 100*time.Millisecond)
	}
}

func (h *harness) selectMenu() {
	h.pressButton(types.ButtonSecondary, types.ButtonReleased, 100*time.Millisecond)
}

func TestMenuReProvisionEntry(t *testing.T) {
	h := menuHarness(t)
	h.advanceMenu(menuProvision)
	h.selectMenu()

	require.Equal(t, uiProvision, h.c.runMenu(context.Background()))
}

func TestMenuCyclesLightTypeAndPersists(t *testing.T) {
	h := menuHarness(t)
	h.advanceMenu(menuLight)
	h.selectMenu() // Off -> WLED
	h.advanceMenu(menuExit - menuLight)
	h.selectMenu()

	require.Equal(t, uiNone, h.c.runMenu(context.Background()))

	lc := config.LoadLightConfig(h.store, h.c.creds, testLogger())
	require.Equal(t, lights.TypeWLED, lc.Type)
}

func TestLightTestRestoresDisplayedPresence(t *testing.T) {
	h := newHarness(t)
	h.c.lastAvail = types.Busy
	sub := h.conn.Subscribe(types.TopicPresence)

	h.c.lightTest(context.Background())

	var got []types.Presence
	for len(got) < 4 {
		got = append(got, (<-sub.Channel()).Payload.(types.Presence))
	}
	require.Equal(t, types.Available, got[0].Availability)
	require.Equal(t, types.Busy, got[1].Availability)
	require.Equal(t, types.Away, got[2].Availability)
	require.Equal(t, types.Busy, got[3].Availability, "displayed state restored")
	require.True(t, got[3].Valid)
}

// -----------------------------------------------------------------------------
// device-code sign-in
// -----------------------------------------------------------------------------

func deviceHarness(t *testing.T, dev *scriptedDevice) *harness {
	h := newHarness(t)
	h.c.device = dev
	if dev.dc.Interval == 0 {
		dev.dc.Interval = 5
	}
	if dev.dc.ExpiresIn == 0 {
		dev.dc.ExpiresIn = 900
	}
	return h
}

func TestDeviceCodePendingNeverConsumesFatalBudget(t *testing.T) {
	results := make([]auth.PollResult, 0, 11)
	errs := make([]error, 0, 11)
	for i := 0; i < 10; i++ {
		results = append(results, auth.PollPending)
		errs = append(errs, errcode.AuthPending)
	}
	results = append(results, auth.PollSuccess)
	errs = append(errs, nil)

	dev := &scriptedDevice{results: results, errs: errs}
	h := deviceHarness(t, dev)

	st := h.c.deviceCodeFlow(context.Background())
	require.Equal(t, StateRunning, st, "10 pendings then success still signs in")
	require.Equal(t, 11, dev.polls)
}

func TestDeviceCodeFatalBudgetExhausted(t *testing.T) {
	results := make([]auth.PollResult, AuthFatalBudget)
	errs := make([]error, AuthFatalBudget)
	for i := range results {
		results[i] = auth.PollFatal
		errs[i] = errcode.Wrap(errcode.AuthRejected, "test", "authorization_declined", nil)
	}
	dev := &scriptedDevice{results: results, errs: errs}
	h := deviceHarness(t, dev)

	st := h.c.deviceCodeFlow(context.Background())
	require.Equal(t, StateError, st)
	require.Equal(t, "Sign-in rejected", h.c.lastErr)
	require.Equal(t, AuthFatalBudget, dev.polls)
}

func TestDeviceCodeExpiredTokenFailsImmediately(t *testing.T) {
	dev := &scriptedDevice{
		results: []auth.PollResult{auth.PollFatal},
		errs:    []error{errcode.Wrap(errcode.AuthExpired, "test", "expired_token", nil)},
	}
	h := deviceHarness(t, dev)

	st := h.c.deviceCodeFlow(context.Background())
	require.Equal(t, StateError, st)
	require.Equal(t, "Sign-in expired", h.c.lastErr)
	require.Equal(t, 1, dev.polls)
}

func TestDeviceCodeDeadlineExpires(t *testing.T) {
	dev := &scriptedDevice{
		results: []auth.PollResult{auth.PollPending},
		errs:    []error{errcode.AuthPending},
		dc:      auth.DeviceCode{ExpiresIn: 12, Interval: 5},
	}
	h := deviceHarness(t, dev)
	// waits advance the clock, so the code's lifetime actually elapses
	h.c.wait = func(ctx context.Context, d time.Duration) error {
		h.clock.Advance(d)
		return nil
	}

	st := h.c.deviceCodeFlow(context.Background())
	require.Equal(t, StateError, st)
	require.Equal(t, "Sign-in expired", h.c.lastErr)
}

func TestDeviceCodeSuccessWithPersistFailureStillSignsIn(t *testing.T) {
	dev := &scriptedDevice{
		results: []auth.PollResult{auth.PollSuccess},
		errs:    []error{errcode.Wrap(errcode.StoreFailed, "test", "", nil)},
	}
	h := deviceHarness(t, dev)

	st := h.c.deviceCodeFlow(context.Background())
	require.Equal(t, StateRunning, st, "a durability loss never blocks sign-in")
}

func TestDeviceCodeRendersQRScreen(t *testing.T) {
	dev := &scriptedDevice{
		results: []auth.PollResult{auth.PollSuccess},
		dc: auth.DeviceCode{
			UserCode: "ABC-DEF",
			QRURL:    "https://microsoft.com/devicelogin?otc=ABCDEF",
			Interval: 5, ExpiresIn: 900,
		},
	}
	h := deviceHarness(t, dev)

	st := h.c.deviceCodeFlow(context.Background())
	require.Equal(t, StateRunning, st)

	screens := h.drainScreens()
	require.NotEmpty(t, screens)
	require.Equal(t, types.ScreenQRAuth, screens[0].Kind)
	require.Equal(t, "ABC-DEF", screens[0].UserCode)
	require.Equal(t, "https://microsoft.com/devicelogin?otc=ABCDEF", screens[0].QRURL)
}

// -----------------------------------------------------------------------------
// silent (S2S) sign-in
// -----------------------------------------------------------------------------

func TestSilentSignInSuccess(t *testing.T) {
	h := newHarness(t)
	st := h.c.silentSignIn(context.Background())
	require.Equal(t, StateRunning, st)
}

func TestSilentSignInRejectedGoesError(t *testing.T) {
	h := newHarness(t)
	h.auth.refreshErrs = []error{errcode.Wrap(errcode.AuthRejected, "test", "", nil)}
	st := h.c.silentSignIn(context.Background())
	require.Equal(t, StateError, st)
	require.Equal(t, "Sign-in failed", h.c.lastErr)
}

func TestSilentSignInRetriesTransient(t *testing.T) {
	h := newHarness(t)
	h.auth.refreshErrs = []error{
		errcode.Wrap(errcode.TransientNetwork, "test", "", nil),
		nil,
	}
	st := h.c.silentSignIn(context.Background())
	require.Equal(t, StateRunning, st)
	require.Equal(t, 2, h.auth.refreshes)
}
