// Package netlink abstracts bringing the network link up. On the MCU this
// is the WiFi join; on a host build the OS owns connectivity and Up is a
// reachability probe.
package netlink

import (
	"context"
	"net"
	"time"

	"statuspod/errcode"
)

// ConnectTimeout bounds one link-up attempt.
const ConnectTimeout = 15 * time.Second

type Link interface {
	// Up joins the network, blocking until connected or failed. Respects
	// ctx and the ConnectTimeout cap.
	Up(ctx context.Context, ssid, password string) error
	Down()
	IsUp() bool
}

// Probe is the host Link: connectivity is assumed managed by the OS and
// verified with a single TCP dial.
type Probe struct {
	// Addr is the dial target; defaults to a public resolver.
	Addr string

	up bool
}

func (p *Probe) addr() string {
	if p.Addr == "" {
		return "1.1.1.1:443"
	}
	return p.Addr
}

func (p *Probe) Up(ctx context.Context, ssid, password string) error {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr())
	if err != nil {
		p.up = false
		return errcode.Wrap(errcode.LinkDown, "netlink.Up", p.addr(), err)
	}
	conn.Close()
	p.up = true
	return nil
}

func (p *Probe) Down()      { p.up = false }
func (p *Probe) IsUp() bool { return p.up }
