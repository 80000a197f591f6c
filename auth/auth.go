// Package auth owns the access/refresh token lifecycle for the two
// presence platforms. The state machine and the presence poller depend
// only on the Backend interface; the platform is selected at runtime from
// the stored credentials.
package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"statuspod/errcode"
)

// ExpiryLookahead triggers a proactive refresh before a poll so a cycle
// never starts with a token about to die mid-request.
const ExpiryLookahead = 5 * time.Minute

// RequestTimeout bounds every token-endpoint call. A stalled endpoint
// stalls the whole cycle, so there is no unbounded wait anywhere.
const RequestTimeout = 8 * time.Second

// Backend is the capability set the application depends on.
type Backend interface {
	// HasValidToken is a pure time comparison; no network call.
	HasValidToken(now time.Time) bool
	// ExpiringSoon is true when expiry is past or within ExpiryLookahead.
	ExpiringSoon(now time.Time) bool
	// Refresh re-derives a usable access token. Platform-specific failure
	// semantics; see Teams.Refresh and Zoom.Refresh.
	Refresh(ctx context.Context) error
	AccessToken() string
	TokenExpiry() time.Time
	// Logout drops all token state, durable artifacts included.
	Logout() error
}

// tokenResponse covers both platforms' token endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// postForm POSTs url-encoded values and returns status and body. Transport
// failures come back as errcode.TransientNetwork.
func postForm(ctx context.Context, hc *http.Client, endpoint string, header http.Header, form url.Values) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, errcode.Wrap(errcode.Fatal, "auth.postForm", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, errcode.Wrap(errcode.TransientNetwork, "auth.postForm", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, errcode.Wrap(errcode.TransientNetwork, "auth.postForm", "read body", err)
	}
	return resp.StatusCode, body, nil
}

func expiresIn(n int) time.Duration {
	if n <= 0 {
		n = 3600
	}
	return time.Duration(n) * time.Second
}
