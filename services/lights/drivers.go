package lights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"statuspod/errcode"
)

// NewDriver builds the driver for the provisioned light type; nil when the
// pod has no light configured.
func NewDriver(lightType int, addr string, hc *http.Client) Driver {
	if addr == "" {
		return nil
	}
	switch lightType {
	case TypeWLED:
		return &WLED{Addr: addr, hc: hc}
	case TypeBulb:
		return &Bulb{Addr: addr, hc: hc}
	}
	return nil
}

// WLED drives a WLED controller through its JSON API.
type WLED struct {
	Addr string // host or host:port
	hc   *http.Client
}

func (w *WLED) Set(ctx context.Context, c Color, on bool) error {
	state := map[string]any{"on": on}
	if on {
		state["seg"] = []map[string]any{
			{"col": [][]uint8{{c.R, c.G, c.B}}},
		}
	}
	body, err := json.Marshal(state)
	if err != nil {
		return errcode.Wrap(errcode.InvalidPayload, "wled.Set", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+w.Addr+"/json/state", strings.NewReader(string(body)))
	if err != nil {
		return errcode.Wrap(errcode.Fatal, "wled.Set", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(w.hc, req, "wled.Set")
}

// Bulb drives a Tasmota-style bulb with Color / Power commands.
type Bulb struct {
	Addr string
	hc   *http.Client
}

func (b *Bulb) Set(ctx context.Context, c Color, on bool) error {
	var cmnd string
	if on {
		cmnd = fmt.Sprintf("Color %02X%02X%02X", c.R, c.G, c.B)
	} else {
		cmnd = "Power OFF"
	}
	u := "http://" + b.Addr + "/cm?cmnd=" + url.QueryEscape(cmnd)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errcode.Wrap(errcode.Fatal, "bulb.Set", "build request", err)
	}
	return do(b.hc, req, "bulb.Set")
}

func do(hc *http.Client, req *http.Request, op string) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return errcode.Wrap(errcode.TransientNetwork, op, req.URL.Host, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return errcode.Wrap(errcode.TransientNetwork, op,
			fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	return nil
}
