// Package presence fetches the current status from the platform API and
// normalizes the backend vocabulary onto the canonical one.
package presence

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"statuspod/errcode"
	"statuspod/types"
)

// RequestTimeout bounds every presence call.
const RequestTimeout = 8 * time.Second

// Poller fetches one normalized presence sample.
//
// Error contract: errcode.Unauthorized on 401 (caller refreshes and retries
// once), errcode.TransientNetwork on transport failure or 5xx,
// errcode.InvalidPayload on a malformed body. On any error the caller keeps
// the previously displayed state.
type Poller interface {
	Poll(ctx context.Context, accessToken string) (types.Presence, error)
}

// get performs an authorized GET and classifies the response.
func get(ctx context.Context, hc *http.Client, url, accessToken string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errcode.Wrap(errcode.Fatal, "presence.get", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errcode.Wrap(errcode.TransientNetwork, "presence.get", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, errcode.Wrap(errcode.TransientNetwork, "presence.get", "read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errcode.Wrap(errcode.Unauthorized, "presence.get", url, nil)
	default:
		return nil, errcode.Wrap(errcode.TransientNetwork, "presence.get",
			"http "+strconv.Itoa(resp.StatusCode), nil)
	}
}
