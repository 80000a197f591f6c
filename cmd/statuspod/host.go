package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"statuspod/retained"
	"statuspod/types"
)

// hostSleeper: light sleep is a plain wait; deep sleep is recorded for the
// main loop to act on; shutdown just lets the process end.
type hostSleeper struct {
	mu   sync.Mutex
	deep *time.Duration
}

func (s *hostSleeper) LightSleep(ctx context.Context, d time.Duration) retained.WakeCause {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return retained.WakeTimer
}

func (s *hostSleeper) DeepSleep(d time.Duration) error {
	s.mu.Lock()
	s.deep = &d
	s.mu.Unlock()
	return nil
}

func (s *hostSleeper) Shutdown() {}

func (s *hostSleeper) pendingDeepSleep() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deep == nil {
		return 0, false
	}
	return *s.deep, true
}

// envVolts is the simulated battery gauge.
type envVolts struct{ v float64 }

func (e envVolts) ReadVoltage() (float64, error) { return e.v, nil }

// logPanel renders screens into the log instead of pixels.
type logPanel struct {
	log *slog.Logger
}

func (p *logPanel) DrawScreen(req types.ScreenRequest, full bool) error {
	attrs := []any{"kind", req.Kind, "full", full}
	switch req.Kind {
	case types.ScreenStatus:
		attrs = append(attrs, "availability", req.Availability.Label(), "activity", req.Activity)
	case types.ScreenQRAuth:
		attrs = append(attrs, "user_code", req.UserCode, "url", req.QRURL)
	case types.ScreenError, types.ScreenLowBattery:
		attrs = append(attrs, "title", req.Title, "detail", req.Detail, "percent", req.Percent)
	case types.ScreenMenu, types.ScreenSettings, types.ScreenDeviceInfo, types.ScreenAuthInfo:
		attrs = append(attrs, "lines", strings.Join(req.Lines, " | "), "selected", req.Selected)
	}
	p.log.Info("screen", attrs...)
	return nil
}

func (p *logPanel) Invert(on bool) error {
	p.log.Info("panel invert", "on", on)
	return nil
}

func (p *logPanel) Sleep() error { return nil }

// logCodec plays tones into the log.
type logCodec struct {
	log *slog.Logger
}

func (c *logCodec) Enable() error  { c.log.Debug("codec enabled"); return nil }
func (c *logCodec) Disable() error { c.log.Debug("codec disabled"); return nil }
func (c *logCodec) Tone(freqHz int, d time.Duration) error {
	c.log.Debug("tone", "freq_hz", freqHz, "dur", d)
	return nil
}
