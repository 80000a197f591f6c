package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"statuspod/errcode"
	"statuspod/x/clockx"
)

const defaultZoomBase = "https://zoom.us"

// Zoom implements Backend via the Server-to-Server OAuth grant. There is no
// refresh token and nothing durable: Refresh simply fetches a brand-new
// token, and a failed fetch is retried on the next cycle.
type Zoom struct {
	accountID    string
	clientID     string
	clientSecret string

	clock clockx.Clock
	hc    *http.Client
	log   *slog.Logger

	// OAuthBase is overridable for tests.
	OAuthBase string

	accessToken string
	expiry      time.Time
}

func NewZoom(accountID, clientID, clientSecret string, clock clockx.Clock, hc *http.Client, log *slog.Logger) *Zoom {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Zoom{
		accountID:    accountID,
		clientID:     clientID,
		clientSecret: clientSecret,
		clock:        clock,
		hc:           hc,
		log:          log.With("service", "auth.zoom"),
		OAuthBase:    defaultZoomBase,
	}
}

// Refresh acquires a new S2S token.
func (z *Zoom) Refresh(ctx context.Context) error {
	z.log.Info("fetching S2S token")

	basic := base64.StdEncoding.EncodeToString([]byte(z.clientID + ":" + z.clientSecret))
	header := http.Header{"Authorization": {"Basic " + basic}}
	form := url.Values{
		"grant_type": {"account_credentials"},
		"account_id": {z.accountID},
	}

	status, body, err := postForm(ctx, z.hc, z.OAuthBase+"/oauth/token", header, form)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		z.accessToken = ""
		code := errcode.AuthRejected
		if status >= 500 {
			code = errcode.TransientNetwork
		}
		return errcode.Wrap(code, "zoom.Refresh", "http "+strconv.Itoa(status), nil)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return errcode.Wrap(errcode.InvalidPayload, "zoom.Refresh", "", err)
	}

	z.accessToken = tok.AccessToken
	z.expiry = z.clock.Now().Add(expiresIn(tok.ExpiresIn))
	z.log.Info("token acquired", "expires", z.expiry)
	return nil
}

func (z *Zoom) HasValidToken(now time.Time) bool {
	return z.accessToken != "" && now.Before(z.expiry)
}

func (z *Zoom) ExpiringSoon(now time.Time) bool {
	if z.expiry.IsZero() {
		return false
	}
	return !now.Add(ExpiryLookahead).Before(z.expiry)
}

func (z *Zoom) AccessToken() string    { return z.accessToken }
func (z *Zoom) TokenExpiry() time.Time { return z.expiry }

// Logout drops the in-memory token; Zoom holds nothing durable.
func (z *Zoom) Logout() error {
	z.accessToken = ""
	z.expiry = time.Time{}
	return nil
}
