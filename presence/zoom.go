package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"statuspod/errcode"
	"statuspod/types"
)

const defaultZoomAPIBase = "https://api.zoom.us"

// Zoom polls /v2/users/me/presence_status and maps the Zoom vocabulary
// onto the canonical one.
type Zoom struct {
	hc  *http.Client
	log *slog.Logger

	// APIBase is overridable for tests.
	APIBase string
}

func NewZoom(hc *http.Client, log *slog.Logger) *Zoom {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Zoom{hc: hc, log: log.With("service", "presence.zoom"), APIBase: defaultZoomAPIBase}
}

func (z *Zoom) Poll(ctx context.Context, accessToken string) (types.Presence, error) {
	body, err := get(ctx, z.hc, z.APIBase+"/v2/users/me/presence_status", accessToken)
	if err != nil {
		return types.Presence{}, err
	}

	var raw struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.Presence{}, errcode.Wrap(errcode.InvalidPayload, "zoom.Poll", "", err)
	}

	st := types.Presence{
		Availability: mapZoomStatus(raw.Status),
		Activity:     mapZoomActivity(raw.Status),
		Valid:        true,
	}
	z.log.Debug("presence", "zoom_status", raw.Status, "availability", st.Availability)
	return st, nil
}

// mapZoomStatus is total: every input maps to a defined output.
func mapZoomStatus(status string) types.Availability {
	switch status {
	case "Available":
		return types.Available
	case "Away", "Out_of_Office":
		return types.Away
	case "Do_Not_Disturb":
		return types.DoNotDisturb
	case "Busy", "In_A_Zoom_Meeting", "On_A_Call", "Presenting", "In_Calendar_Event":
		return types.Busy
	case "Offline":
		return types.Offline
	}
	return types.AvailabilityUnknown
}

func mapZoomActivity(status string) string {
	switch status {
	case "In_A_Zoom_Meeting":
		return "In a Meeting"
	case "On_A_Call":
		return "On a Call"
	case "Presenting":
		return "Presenting"
	case "In_Calendar_Event":
		return "Calendar Event"
	case "Out_of_Office":
		return "Out of Office"
	case "Do_Not_Disturb":
		return "Do Not Disturb"
	}
	return ""
}
