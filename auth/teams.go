package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"statuspod/errcode"
	"statuspod/storage"
	"statuspod/x/clockx"
)

const (
	// Presence.Read to poll status, offline_access to get refresh tokens.
	teamsScope = "https://graph.microsoft.com/Presence.Read offline_access"

	defaultLoginBase = "https://login.microsoftonline.com"

	keyRefreshToken = "refresh_tok"

	deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"
)

// DeviceCode is the challenge shown to the user on the QR screen.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	QRURL           string
	ExpiresIn       int // seconds
	Interval        int // seconds between token polls
}

// PollResult classifies one device-code token poll.
type PollResult uint8

const (
	PollPending PollResult = iota // keep waiting; never counts as failure
	PollSuccess
	PollFatal // explicit, parsed rejection from the server
)

// Teams implements Backend via the OAuth2 device-code flow with silent
// refresh. Only the refresh token is durable; the access token is
// re-derived after every restart.
type Teams struct {
	clientID string
	tenantID string

	store storage.Store
	clock clockx.Clock
	hc    *http.Client
	log   *slog.Logger

	// LoginBase is overridable for tests.
	LoginBase string

	accessToken  string
	refreshToken string
	expiry       time.Time
}

func NewTeams(clientID, tenantID string, store storage.Store, clock clockx.Clock, hc *http.Client, log *slog.Logger) *Teams {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Teams{
		clientID:  clientID,
		tenantID:  tenantID,
		store:     store,
		clock:     clock,
		hc:        hc,
		log:       log.With("service", "auth.teams"),
		LoginBase: defaultLoginBase,
	}
}

func (t *Teams) deviceCodeEndpoint() string {
	return t.LoginBase + "/" + t.tenantID + "/oauth2/v2.0/devicecode"
}
func (t *Teams) tokenEndpoint() string {
	return t.LoginBase + "/" + t.tenantID + "/oauth2/v2.0/token"
}

// LoadPersisted restores the refresh token, the sole durable artifact.
func (t *Teams) LoadPersisted() error {
	v, ok, err := t.store.Get(storage.NSAuth, keyRefreshToken)
	if err != nil {
		return errcode.Wrap(errcode.StoreFailed, "teams.LoadPersisted", "", err)
	}
	if ok {
		t.refreshToken = v
	}
	t.log.Info("restored auth state", "refresh_token_present", t.refreshToken != "")
	return nil
}

// StartDeviceCode requests a user code. Step one of the two-phase flow.
func (t *Teams) StartDeviceCode(ctx context.Context) (DeviceCode, error) {
	form := url.Values{
		"client_id": {t.clientID},
		"scope":     {teamsScope},
	}
	status, body, err := postForm(ctx, t.hc, t.deviceCodeEndpoint(), nil, form)
	if err != nil {
		return DeviceCode{}, err
	}
	if status != http.StatusOK {
		return DeviceCode{}, errcode.Wrap(errcode.AuthRejected, "teams.StartDeviceCode",
			"device code request failed", errcode.Code("http_"+strconv.Itoa(status)))
	}

	var raw struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return DeviceCode{}, errcode.Wrap(errcode.InvalidPayload, "teams.StartDeviceCode", "", err)
	}

	dc := DeviceCode{
		DeviceCode:      raw.DeviceCode,
		UserCode:        raw.UserCode,
		VerificationURI: raw.VerificationURI,
		ExpiresIn:       raw.ExpiresIn,
		Interval:        raw.Interval,
	}
	if dc.ExpiresIn <= 0 {
		dc.ExpiresIn = 900
	}
	if dc.Interval <= 0 {
		dc.Interval = 5
	}
	// QR deep link: append the user code with dashes stripped.
	dc.QRURL = dc.VerificationURI + "?otc=" + strings.ReplaceAll(dc.UserCode, "-", "")

	t.log.Info("device code issued",
		"user_code", dc.UserCode, "expires_in", dc.ExpiresIn, "interval", dc.Interval)
	return dc, nil
}

// PollToken is step two: ask whether the user has finished signing in.
// Transport failures and 5xx are Pending-equivalent — only a parsed,
// explicit rejection is Fatal.
func (t *Teams) PollToken(ctx context.Context, dc DeviceCode) (PollResult, error) {
	form := url.Values{
		"grant_type":  {deviceCodeGrant},
		"client_id":   {t.clientID},
		"device_code": {dc.DeviceCode},
	}
	status, body, err := postForm(ctx, t.hc, t.tokenEndpoint(), nil, form)
	if err != nil {
		// Transient: do not consume the failure budget.
		return PollPending, err
	}

	switch {
	case status == http.StatusOK:
		var tok tokenResponse
		if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
			return PollPending, errcode.Wrap(errcode.InvalidPayload, "teams.PollToken", "", err)
		}
		t.setToken(tok)
		if err := t.persistRefreshToken(); err != nil {
			return PollSuccess, err
		}
		t.log.Info("token acquired")
		return PollSuccess, nil

	case status >= 400 && status < 500:
		var tok tokenResponse
		if err := json.Unmarshal(body, &tok); err != nil || tok.Error == "" {
			// Unparsed 4xx: treat as transient rather than burning the budget.
			return PollPending, errcode.Wrap(errcode.InvalidPayload, "teams.PollToken", "", err)
		}
		switch tok.Error {
		case "authorization_pending", "slow_down":
			return PollPending, errcode.AuthPending
		case "expired_token":
			return PollFatal, errcode.Wrap(errcode.AuthExpired, "teams.PollToken", tok.Error, nil)
		default:
			// authorization_declined, bad_verification_code, invalid_client…
			return PollFatal, errcode.Wrap(errcode.AuthRejected, "teams.PollToken", tok.Error, nil)
		}

	default:
		// 5xx and anything unexpected: transient.
		return PollPending, errcode.Wrap(errcode.TransientNetwork, "teams.PollToken",
			"http "+strconv.Itoa(status), nil)
	}
}

// Refresh exchanges the stored refresh token for a new access token.
// Any non-200 or malformed response invalidates the stored refresh token —
// a fail-safe, not a retry: a bad refresh token must never loop.
func (t *Teams) Refresh(ctx context.Context) error {
	if t.refreshToken == "" {
		return errcode.Wrap(errcode.AuthRejected, "teams.Refresh", "no refresh token", nil)
	}
	t.log.Info("refreshing token")

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {t.clientID},
		"refresh_token": {t.refreshToken},
		"scope":         {teamsScope},
	}
	status, body, err := postForm(ctx, t.hc, t.tokenEndpoint(), nil, form)
	if err != nil || status != http.StatusOK {
		t.invalidateRefreshToken()
		if err == nil {
			err = errcode.Wrap(errcode.AuthRejected, "teams.Refresh", "http "+strconv.Itoa(status), nil)
		}
		return err
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		t.invalidateRefreshToken()
		return errcode.Wrap(errcode.AuthRejected, "teams.Refresh", "malformed token response", err)
	}

	t.setToken(tok)
	if err := t.persistRefreshToken(); err != nil {
		return err
	}
	t.log.Info("token refreshed", "expires", t.expiry)
	return nil
}

func (t *Teams) setToken(tok tokenResponse) {
	t.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		t.refreshToken = tok.RefreshToken
	}
	t.expiry = t.clock.Now().Add(expiresIn(tok.ExpiresIn))
}

func (t *Teams) invalidateRefreshToken() {
	t.refreshToken = ""
	if err := t.store.Put(storage.NSAuth, keyRefreshToken, ""); err != nil {
		t.log.Error("failed to clear stored refresh token", "err", err)
	}
	t.log.Warn("refresh token invalidated; full re-auth required")
}

func (t *Teams) persistRefreshToken() error {
	if err := t.store.Put(storage.NSAuth, keyRefreshToken, t.refreshToken); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "teams.persistRefreshToken", "", err)
	}
	return nil
}

func (t *Teams) HasValidToken(now time.Time) bool {
	return t.accessToken != "" && now.Before(t.expiry)
}

func (t *Teams) ExpiringSoon(now time.Time) bool {
	if t.expiry.IsZero() {
		return false
	}
	return !now.Add(ExpiryLookahead).Before(t.expiry)
}

func (t *Teams) AccessToken() string         { return t.accessToken }
func (t *Teams) TokenExpiry() time.Time      { return t.expiry }
func (t *Teams) HasStoredRefreshToken() bool { return t.refreshToken != "" }

// Logout drops everything, durable refresh token included.
func (t *Teams) Logout() error {
	t.accessToken = ""
	t.refreshToken = ""
	t.expiry = time.Time{}
	if err := t.store.Erase(storage.NSAuth); err != nil {
		return errcode.Wrap(errcode.StoreFailed, "teams.Logout", "", err)
	}
	return nil
}
