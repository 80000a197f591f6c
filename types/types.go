package types

import "time"

// ------------------------
// Platform
// ------------------------

// Platform selects the auth flow and presence API.
type Platform uint8

const (
	PlatformTeams Platform = iota
	PlatformZoom
)

func (p Platform) String() string {
	switch p {
	case PlatformTeams:
		return "Teams"
	case PlatformZoom:
		return "Zoom"
	}
	return "Unknown"
}

// ------------------------
// Presence
// ------------------------

// Availability is the canonical status vocabulary. Backend-specific values
// are normalized onto it; anything unrecognized maps to AvailabilityUnknown.
type Availability string

const (
	Available           Availability = "Available"
	Busy                Availability = "Busy"
	DoNotDisturb        Availability = "DoNotDisturb"
	Away                Availability = "Away"
	BeRightBack         Availability = "BeRightBack"
	Offline             Availability = "Offline"
	AvailabilityUnknown Availability = "Unknown"
)

// ParseAvailability is total: unrecognized input yields AvailabilityUnknown.
func ParseAvailability(s string) Availability {
	switch Availability(s) {
	case Available, Busy, DoNotDisturb, Away, BeRightBack, Offline:
		return Availability(s)
	}
	return AvailabilityUnknown
}

// Label is the human-readable form shown on the panel.
func (a Availability) Label() string {
	switch a {
	case DoNotDisturb:
		return "Do Not Disturb"
	case BeRightBack:
		return "Be Right Back"
	case AvailabilityUnknown:
		return "Unknown"
	}
	return string(a)
}

// Presence is produced fresh on every successful poll; never persisted.
type Presence struct {
	Availability Availability `json:"availability"`
	Activity     string       `json:"activity"`
	Valid        bool         `json:"valid"`
}

// ------------------------
// Credentials
// ------------------------

// Credentials is the provisioned credential set. Immutable once saved except
// by a fresh provisioning pass or a factory reset.
type Credentials struct {
	SSID         string   `json:"ssid"`
	Password     string   `json:"password"`
	Platform     Platform `json:"platform"`
	ClientID     string   `json:"client_id"`
	TenantID     string   `json:"tenant_id"` // Teams tenant or Zoom account id
	ClientSecret string   `json:"client_secret,omitempty"`
	LightType    int      `json:"light_type"`
	LightAddr    string   `json:"light_addr"`
}

// Complete reports whether the set is usable for the selected platform.
func (c Credentials) Complete() bool {
	if c.SSID == "" || c.ClientID == "" || c.TenantID == "" {
		return false
	}
	if c.Platform == PlatformZoom && c.ClientSecret == "" {
		return false
	}
	return true
}

// ------------------------
// Settings
// ------------------------

// OfficeHours is a minute-of-day window plus a day-of-week bitmask
// (bit 0 = Monday).
type OfficeHours struct {
	Enabled     bool   `json:"enabled"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Days        uint8  `json:"days"`
	Timezone    string `json:"timezone"`
}

// Settings are durable and menu-editable. Defaults apply when absent.
type Settings struct {
	PollInterval     time.Duration `json:"poll_interval"`
	InvertDisplay    bool          `json:"invert_display"`
	AudioAlerts      bool          `json:"audio_alerts"`
	FullRefreshEvery int           `json:"full_refresh_every"`
	OfficeHours      OfficeHours   `json:"office_hours"`
}

// DefaultSettings mirrors the factory configuration.
func DefaultSettings() Settings {
	return Settings{
		PollInterval:     120 * time.Second,
		FullRefreshEvery: 10,
		OfficeHours: OfficeHours{
			StartMinute: 8 * 60,
			EndMinute:   17 * 60,
			Days:        0x1F, // Mon-Fri
		},
	}
}

// ------------------------
// Battery
// ------------------------

// BatteryStatus: bus payload on battery/status (retained).
type BatteryStatus struct {
	Voltage         float64 `json:"voltage"`
	Percent         int     `json:"percent"`
	OnExternalPower bool    `json:"on_external_power"`
}

// ------------------------
// Buttons
// ------------------------

type ButtonID string

const (
	ButtonPrimary   ButtonID = "primary"   // advance / confirm
	ButtonSecondary ButtonID = "secondary" // select / power
)

type ButtonAction uint8

const (
	ButtonPressed ButtonAction = iota
	ButtonReleased
	ButtonHeld
)

// ButtonEvent: bus payload on button/<id>/event.
type ButtonEvent struct {
	ID     ButtonID
	Action ButtonAction
	Hold   time.Duration // set for ButtonHeld
}

// ------------------------
// Screens
// ------------------------

type ScreenKind string

const (
	ScreenSplash     ScreenKind = "splash"
	ScreenSetup      ScreenKind = "setup"
	ScreenQRAuth     ScreenKind = "qr_auth"
	ScreenStatus     ScreenKind = "status"
	ScreenMenu       ScreenKind = "menu"
	ScreenSettings   ScreenKind = "settings"
	ScreenDeviceInfo ScreenKind = "device_info"
	ScreenAuthInfo   ScreenKind = "auth_info"
	ScreenLowBattery ScreenKind = "low_battery"
	ScreenShutdown   ScreenKind = "shutdown"
	ScreenError      ScreenKind = "error"
)

// ScreenRequest: bus payload on screen/request. The display service owns the
// partial/full refresh cadence; Partial is a hint only.
type ScreenRequest struct {
	Kind    ScreenKind
	Partial bool

	// Screen payloads — only the fields for Kind are populated.
	Availability Availability // status
	Activity     string       // status
	UserCode     string       // qr_auth
	QRURL        string       // qr_auth
	Title        string       // error, low_battery
	Detail       string       // error
	Percent      int          // low_battery
	Critical     bool         // low_battery
	Lines        []string     // menu, settings, info screens
	Selected     int          // menu, settings
}

// ------------------------
// Notify events
// ------------------------

type NotifyKind string

const (
	NotifyClick      NotifyKind = "click"
	NotifyBeep       NotifyKind = "beep"
	NotifyConfirm    NotifyKind = "confirm"
	NotifyError      NotifyKind = "error"
	NotifyAttention  NotifyKind = "attention"
	NotifyLowBattery NotifyKind = "low_battery"
)
