// Package provision accepts the credential set field by field over any
// transport and commits it atomically. The gateway is transport-agnostic:
// HTTP and serial both funnel through Apply/Commit.
package provision

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"statuspod/errcode"
	"statuspod/services/config"
	"statuspod/storage"
	"statuspod/types"
)

// Transport serves one provisioning session against the gateway until the
// context is cancelled.
type Transport interface {
	Serve(ctx context.Context, g *Gateway) error
}

type Gateway struct {
	store storage.Store
	log   *slog.Logger
	tr    []Transport

	mu        sync.Mutex
	session   string
	staged    types.Credentials
	hours     *types.OfficeHours
	timezone  string
	fieldsSet []string
	committed chan struct{}
	done      bool
}

func NewGateway(store storage.Store, log *slog.Logger, transports ...Transport) *Gateway {
	return &Gateway{
		store:     store,
		log:       log.With("service", "provision"),
		tr:        transports,
		committed: make(chan struct{}),
	}
}

func (g *Gateway) HasCredentials() bool {
	_, ok, err := config.LoadCredentials(g.store)
	return err == nil && ok
}

// Begin serves provisioning until a complete credential set is committed.
// Each call is a fresh session: stale staged fields from a previous owner
// (for instance before a factory reset) never leak into the next commit.
func (g *Gateway) Begin(ctx context.Context) error {
	g.mu.Lock()
	g.session = uuid.NewString()
	g.staged = types.Credentials{}
	g.hours = nil
	g.timezone = ""
	g.fieldsSet = nil
	g.committed = make(chan struct{})
	g.done = false
	committed := g.committed
	g.mu.Unlock()
	g.log.Info("provisioning started", "session", g.Session())

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, t := range g.tr {
		go func(t Transport) {
			if err := t.Serve(sctx, g); err != nil && sctx.Err() == nil {
				g.log.Error("transport failed", "err", err)
			}
		}(t)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-committed:
		g.log.Info("provisioning committed", "session", g.Session())
		return nil
	}
}

func (g *Gateway) Session() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// Apply stages one named field. The names are the external contract shared
// with the companion app; unknown names are rejected.
func (g *Gateway) Apply(name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch name {
	case "ssid":
		g.staged.SSID = value
	case "password":
		g.staged.Password = value
	case "client_id":
		g.staged.ClientID = value
	case "tenant_id":
		g.staged.TenantID = value
	case "client_secret":
		g.staged.ClientSecret = value
	case "platform":
		switch value {
		case "teams":
			g.staged.Platform = types.PlatformTeams
		case "zoom":
			g.staged.Platform = types.PlatformZoom
		default:
			return errcode.Wrap(errcode.InvalidPayload, "provision.Apply", "platform "+value, nil)
		}
	case "light_type":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errcode.Wrap(errcode.InvalidPayload, "provision.Apply", "light_type", err)
		}
		g.staged.LightType = n
	case "light_ip":
		g.staged.LightAddr = value
	case "timezone":
		g.timezone = value
	case "office_hours":
		var oh types.OfficeHours
		if err := json.Unmarshal([]byte(value), &oh); err != nil {
			return errcode.Wrap(errcode.InvalidPayload, "provision.Apply", "office_hours", err)
		}
		g.hours = &oh
	default:
		return errcode.Wrap(errcode.Unsupported, "provision.Apply", "field "+name, nil)
	}

	g.fieldsSet = append(g.fieldsSet, name)
	g.log.Info("field staged", "field", name)
	return nil
}

// Complete reports whether the staged set is ready to commit.
func (g *Gateway) Complete() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.staged.Complete()
}

// Commit persists the staged credential set in one write and releases the
// waiting controller. Settings-side fields ride along when staged.
func (g *Gateway) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done {
		return nil
	}
	if !g.staged.Complete() {
		return errcode.Wrap(errcode.InvalidConfig, "provision.Commit", "incomplete credential set", nil)
	}
	if err := config.SaveCredentials(g.store, g.staged); err != nil {
		return err
	}

	if g.hours != nil || g.timezone != "" {
		s := config.LoadSettings(g.store, g.log)
		if g.hours != nil {
			s.OfficeHours = *g.hours
		}
		if g.timezone != "" {
			s.OfficeHours.Timezone = g.timezone
		}
		if err := config.SaveSettings(g.store, s); err != nil {
			return err
		}
	}

	g.done = true
	close(g.committed)
	return nil
}

// Fields returns the names staged so far, for status reporting.
func (g *Gateway) Fields() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.fieldsSet))
	copy(out, g.fieldsSet)
	return out
}
