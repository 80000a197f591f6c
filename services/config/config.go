// Package config owns both configuration surfaces: the process environment
// (host concerns like paths and listen addresses) and the durable device
// settings and credentials living in the key-value store.
package config

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"statuspod/bus"
	"statuspod/errcode"
	"statuspod/storage"
	"statuspod/types"
)

// Process is the environment-driven host configuration.
type Process struct {
	StorePath     string  `env:"STATUSPOD_STORE" envDefault:"statuspod.db"`
	RetainedPath  string  `env:"STATUSPOD_RETAINED" envDefault:"statuspod.retained"`
	ListenAddr    string  `env:"STATUSPOD_LISTEN" envDefault:":8080"`
	LogLevel      string  `env:"STATUSPOD_LOG_LEVEL" envDefault:"info"`
	PollInterval  int     `env:"STATUSPOD_POLL_INTERVAL" envDefault:"0"` // seconds; 0 = use settings
	BatteryVolts  float64 `env:"STATUSPOD_BATTERY_VOLTS" envDefault:"4.3"`
	ProbeAddr     string  `env:"STATUSPOD_PROBE_ADDR" envDefault:""`
	InsecureTLS   bool    `env:"STATUSPOD_INSECURE_TLS" envDefault:"false"`
}

func LoadProcess() (Process, error) {
	var p Process
	if err := env.Parse(&p); err != nil {
		return Process{}, errcode.Wrap(errcode.InvalidConfig, "config.LoadProcess", "", err)
	}
	return p, nil
}

// SlogLevel maps the configured level string, defaulting to Info.
func (p Process) SlogLevel() slog.Level {
	switch p.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// -----------------------------------------------------------------------------
// Durable settings
// -----------------------------------------------------------------------------

const (
	keySettings    = "settings"
	keyCredentials = "credentials"
	keyLight       = "light"
)

// LoadSettings returns stored settings, or the factory defaults when none
// were ever saved. A corrupt blob also falls back to defaults rather than
// wedging boot.
func LoadSettings(store storage.Store, log *slog.Logger) types.Settings {
	s := types.DefaultSettings()
	raw, ok, err := store.Get(storage.NSSettings, keySettings)
	if err != nil || !ok {
		if err != nil {
			log.Error("settings read failed; using defaults", "err", err)
		}
		return s
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		log.Error("settings blob corrupt; using defaults", "err", err)
		return types.DefaultSettings()
	}
	if s.PollInterval < 10*time.Second {
		s.PollInterval = types.DefaultSettings().PollInterval
	}
	if s.FullRefreshEvery <= 0 {
		s.FullRefreshEvery = types.DefaultSettings().FullRefreshEvery
	}
	return s
}

func SaveSettings(store storage.Store, s types.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errcode.Wrap(errcode.InvalidPayload, "config.SaveSettings", "", err)
	}
	if err := store.Put(storage.NSSettings, keySettings, string(raw)); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "config.SaveSettings", "", err)
	}
	return nil
}

// LoadCredentials reports ok=false when the pod was never provisioned.
func LoadCredentials(store storage.Store) (types.Credentials, bool, error) {
	raw, ok, err := store.Get(storage.NSCredentials, keyCredentials)
	if err != nil {
		return types.Credentials{}, false, errcode.Wrap(errcode.StoreFailed, "config.LoadCredentials", "", err)
	}
	if !ok || raw == "" {
		return types.Credentials{}, false, nil
	}
	var c types.Credentials
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return types.Credentials{}, false, errcode.Wrap(errcode.InvalidPayload, "config.LoadCredentials", "", err)
	}
	return c, c.Complete(), nil
}

// SaveCredentials commits the whole set in one Put so a torn write can
// never leave half a credential set behind.
func SaveCredentials(store storage.Store, c types.Credentials) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errcode.Wrap(errcode.InvalidPayload, "config.SaveCredentials", "", err)
	}
	if err := store.Put(storage.NSCredentials, keyCredentials, string(raw)); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "config.SaveCredentials", "", err)
	}
	return nil
}

// LightConfig is the smart-light binding. Provisioning seeds it through the
// credential set; the menu can override the type afterwards without a full
// re-provisioning pass.
type LightConfig struct {
	Type int    `json:"type"`
	Addr string `json:"addr"`
}

// LoadLightConfig returns the stored override when present, falling back to
// the provisioned values. The address falls back independently so a
// type-only override keeps the provisioned address.
func LoadLightConfig(store storage.Store, creds types.Credentials, log *slog.Logger) LightConfig {
	lc := LightConfig{Type: creds.LightType, Addr: creds.LightAddr}
	raw, ok, err := store.Get(storage.NSLights, keyLight)
	if err != nil || !ok {
		if err != nil {
			log.Error("light config read failed; using provisioned values", "err", err)
		}
		return lc
	}
	var saved LightConfig
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		log.Error("light config blob corrupt; using provisioned values", "err", err)
		return lc
	}
	if saved.Addr == "" {
		saved.Addr = lc.Addr
	}
	return saved
}

func SaveLightConfig(store storage.Store, lc LightConfig) error {
	raw, err := json.Marshal(lc)
	if err != nil {
		return errcode.Wrap(errcode.InvalidPayload, "config.SaveLightConfig", "", err)
	}
	if err := store.Put(storage.NSLights, keyLight, string(raw)); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "config.SaveLightConfig", "", err)
	}
	return nil
}

// PublishSettings retains the current settings on the bus so services pick
// them up without touching the store.
func PublishSettings(conn *bus.Connection, s types.Settings) {
	conn.Publish(conn.NewMessage(types.TopicSettings, s, true))
}
