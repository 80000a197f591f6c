// Package audio turns notify events into short tone effects. The whole
// service is gated by the AudioAlerts setting; when muted the codec stays
// disabled and events are dropped silently.
package audio

import (
	"context"
	"log/slog"
	"time"

	"statuspod/bus"
	"statuspod/types"
)

// Codec is the hardware-facing contract. Tone blocks for the duration.
type Codec interface {
	Enable() error
	Disable() error
	Tone(freqHz int, d time.Duration) error
}

// tone is one note of an effect; a zero frequency is a rest.
type tone struct {
	freq int
	dur  time.Duration
}

var effects = map[types.NotifyKind][]tone{
	types.NotifyClick:   {{2000, 50 * time.Millisecond}},
	types.NotifyBeep:    {{1000, 120 * time.Millisecond}},
	types.NotifyConfirm: {{1200, 90 * time.Millisecond}, {0, 30 * time.Millisecond}, {1800, 120 * time.Millisecond}},
	types.NotifyError:   {{220, 400 * time.Millisecond}},
	types.NotifyAttention: {
		{1500, 80 * time.Millisecond}, {0, 60 * time.Millisecond},
		{1500, 80 * time.Millisecond}, {0, 60 * time.Millisecond},
		{1500, 80 * time.Millisecond},
	},
	types.NotifyLowBattery: {{500, 200 * time.Millisecond}, {0, 80 * time.Millisecond}, {350, 300 * time.Millisecond}},
}

type Service struct {
	codec   Codec
	log     *slog.Logger
	enabled bool
}

func New(codec Codec, log *slog.Logger) *Service {
	return &Service{codec: codec, log: log.With("service", "audio")}
}

func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.codec == nil {
		return nil
	}
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	noteSub := conn.Subscribe(types.TopicNotify)
	cfgSub := conn.Subscribe(types.TopicSettings)
	defer conn.Unsubscribe(noteSub)
	defer conn.Unsubscribe(cfgSub)

	for {
		select {
		case <-ctx.Done():
			_ = s.codec.Disable()
			return
		case msg := <-noteSub.Channel():
			if kind, ok := msg.Payload.(types.NotifyKind); ok {
				s.Play(kind)
			}
		case msg := <-cfgSub.Channel():
			if cfg, ok := msg.Payload.(types.Settings); ok {
				s.SetEnabled(cfg.AudioAlerts)
			}
		}
	}
}

// SetEnabled powers the codec up or down to match the setting.
func (s *Service) SetEnabled(on bool) {
	if on == s.enabled {
		return
	}
	s.enabled = on
	if on {
		if err := s.codec.Enable(); err != nil {
			s.log.Error("codec enable failed", "err", err)
			s.enabled = false
		}
		return
	}
	if err := s.codec.Disable(); err != nil {
		s.log.Error("codec disable failed", "err", err)
	}
}

// Play runs one effect; dropped when muted or unknown.
func (s *Service) Play(kind types.NotifyKind) {
	if !s.enabled {
		return
	}
	seq, ok := effects[kind]
	if !ok {
		s.log.Debug("no effect for notify kind", "kind", kind)
		return
	}
	for _, t := range seq {
		if err := s.codec.Tone(t.freq, t.dur); err != nil {
			s.log.Warn("tone failed", "kind", kind, "err", err)
			return
		}
	}
}
