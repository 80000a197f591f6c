// Package lights mirrors the displayed availability onto an external smart
// light. Best-effort only: a dead bulb never disturbs the poll cycle, so
// every failure here is logged and swallowed.
package lights

import (
	"context"
	"log/slog"
	"time"

	"statuspod/bus"
	"statuspod/types"
)

// RequestTimeout bounds one light command.
const RequestTimeout = 3 * time.Second

// Light types as provisioned (light_type field).
const (
	TypeNone = 0
	TypeWLED = 1
	TypeBulb = 2 // Tasmota-style HTTP bulb
)

// Color is 8-bit RGB.
type Color struct {
	R, G, B uint8
}

var (
	colorGreen  = Color{0, 255, 0}
	colorRed    = Color{255, 0, 0}
	colorYellow = Color{255, 180, 0}
)

// ColorFor maps availability onto the light. ok=false means off.
func ColorFor(a types.Availability) (Color, bool) {
	switch a {
	case types.Available:
		return colorGreen, true
	case types.Busy, types.DoNotDisturb:
		return colorRed, true
	case types.Away, types.BeRightBack:
		return colorYellow, true
	}
	// Offline, Unknown: dark.
	return Color{}, false
}

// Driver pushes one state to the physical light.
type Driver interface {
	Set(ctx context.Context, c Color, on bool) error
}

type Service struct {
	driver Driver
	log    *slog.Logger

	lastOn    bool
	lastColor Color
	pushed    bool
}

func New(driver Driver, log *slog.Logger) *Service {
	return &Service{driver: driver, log: log.With("service", "lights")}
}

func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.driver == nil {
		return nil
	}
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(types.TopicPresence)
	defer conn.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			// Best effort: leave the light dark on the way out.
			off, cancel := context.WithTimeout(context.Background(), RequestTimeout)
			_ = s.driver.Set(off, Color{}, false)
			cancel()
			return
		case msg := <-sub.Channel():
			if pres, ok := msg.Payload.(types.Presence); ok {
				s.Apply(ctx, pres)
			}
		}
	}
}

// Apply pushes the presence to the light, skipping no-op updates.
func (s *Service) Apply(ctx context.Context, pres types.Presence) {
	color, on := Color{}, false
	if pres.Valid {
		color, on = ColorFor(pres.Availability)
	}
	if s.pushed && on == s.lastOn && color == s.lastColor {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	if err := s.driver.Set(cctx, color, on); err != nil {
		s.log.Warn("light update failed", "err", err)
		return
	}
	s.pushed, s.lastOn, s.lastColor = true, on, color
	s.log.Debug("light updated", "availability", pres.Availability, "on", on)
}
