// Package display owns what the e-paper panel shows. It is the only writer
// of the panel: every other service asks for a screen over the bus and this
// service serializes the requests and manages the partial/full refresh
// cadence (partials ghost, so every Nth refresh is a full one).
package display

import (
	"context"
	"log/slog"

	"statuspod/bus"
	"statuspod/types"
)

// Panel is the hardware-facing contract. DrawScreen does all pixel work;
// full selects a full waveform refresh instead of a partial update.
type Panel interface {
	DrawScreen(req types.ScreenRequest, full bool) error
	Invert(on bool) error
	Sleep() error
}

type Service struct {
	panel Panel
	log   *slog.Logger

	fullEvery int
	partials  int
	inverted  bool
	last      types.ScreenRequest
	shown     bool
}

func New(panel Panel, log *slog.Logger) *Service {
	return &Service{
		panel:     panel,
		log:       log.With("service", "display"),
		fullEvery: types.DefaultSettings().FullRefreshEvery,
	}
}

func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	reqSub := conn.Subscribe(types.TopicScreenRequest)
	cfgSub := conn.Subscribe(types.TopicSettings)
	defer conn.Unsubscribe(reqSub)
	defer conn.Unsubscribe(cfgSub)

	for {
		select {
		case <-ctx.Done():
			if err := s.panel.Sleep(); err != nil {
				s.log.Error("panel sleep failed", "err", err)
			}
			return
		case msg := <-reqSub.Channel():
			if req, ok := msg.Payload.(types.ScreenRequest); ok {
				s.Show(req)
			}
		case msg := <-cfgSub.Channel():
			if cfg, ok := msg.Payload.(types.Settings); ok {
				s.ApplySettings(cfg)
			}
		}
	}
}

// Show draws one screen, upgrading the hinted partial to a full refresh on
// cadence or on any screen-kind change.
func (s *Service) Show(req types.ScreenRequest) {
	full := !req.Partial || s.dueFull(req)
	if full {
		s.partials = 0
	} else {
		s.partials++
	}

	if err := s.panel.DrawScreen(req, full); err != nil {
		s.log.Error("draw failed", "kind", req.Kind, "err", err)
		return
	}
	s.last = req
	s.shown = true
	s.log.Debug("screen drawn", "kind", req.Kind, "full", full)
}

func (s *Service) dueFull(req types.ScreenRequest) bool {
	if !s.shown || req.Kind != s.last.Kind {
		return true
	}
	return s.partials >= s.fullEvery-1
}

// ApplySettings picks up cadence and inversion changes.
func (s *Service) ApplySettings(cfg types.Settings) {
	if cfg.FullRefreshEvery > 0 {
		s.fullEvery = cfg.FullRefreshEvery
	}
	if cfg.InvertDisplay != s.inverted {
		s.inverted = cfg.InvertDisplay
		if err := s.panel.Invert(cfg.InvertDisplay); err != nil {
			s.log.Error("invert failed", "err", err)
		}
	}
}
