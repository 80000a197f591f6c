package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"statuspod/errcode"
	"statuspod/types"
)

const defaultGraphBase = "https://graph.microsoft.com"

// Teams polls Microsoft Graph /v1.0/me/presence. Graph already speaks the
// canonical vocabulary, so normalization is a straight parse with the
// Unknown fallback.
type Teams struct {
	hc  *http.Client
	log *slog.Logger

	// GraphBase is overridable for tests.
	GraphBase string
}

func NewTeams(hc *http.Client, log *slog.Logger) *Teams {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Teams{hc: hc, log: log.With("service", "presence.teams"), GraphBase: defaultGraphBase}
}

func (t *Teams) Poll(ctx context.Context, accessToken string) (types.Presence, error) {
	body, err := get(ctx, t.hc, t.GraphBase+"/v1.0/me/presence", accessToken)
	if err != nil {
		return types.Presence{}, err
	}

	var raw struct {
		Availability string `json:"availability"`
		Activity     string `json:"activity"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.Presence{}, errcode.Wrap(errcode.InvalidPayload, "teams.Poll", "", err)
	}

	st := types.Presence{
		Availability: types.ParseAvailability(raw.Availability),
		Activity:     raw.Activity,
		Valid:        true,
	}
	t.log.Debug("presence", "availability", st.Availability, "activity", st.Activity)
	return st, nil
}
