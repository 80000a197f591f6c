//go:build rp2040

package provision

import (
	"context"
	"machine"
	"strings"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// SerialTransport speaks a line protocol over UART0 for provisioning from
// a wired companion: `field=value` lines stage fields, a bare `commit`
// line commits. Responses are `ok` or `err <reason>`.
type SerialTransport struct {
	Baud uint32
	TX   machine.Pin
	RX   machine.Pin
}

func (t *SerialTransport) Serve(ctx context.Context, g *Gateway) error {
	u := uartx.UART0
	if err := u.Configure(uartx.UARTConfig{BaudRate: t.Baud, TX: t.TX, RX: t.RX}); err != nil {
		return err
	}

	buf := make([]byte, 64)
	var line []byte
	for {
		n, err := u.RecvSomeContext(ctx, buf)
		if err != nil {
			return err
		}
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				line = append(line, b)
				continue
			}
			if len(line) == 0 {
				continue
			}
			t.handleLine(u, g, string(line))
			line = line[:0]
		}
	}
}

func (t *SerialTransport) handleLine(u *uartx.UART, g *Gateway, line string) {
	if line == "commit" {
		if err := g.Commit(); err != nil {
			u.Write([]byte("err " + err.Error() + "\n"))
			return
		}
		u.Write([]byte("ok\n"))
		return
	}

	name, value, ok := strings.Cut(line, "=")
	if !ok {
		u.Write([]byte("err malformed line\n"))
		return
	}
	if err := g.Apply(name, value); err != nil {
		u.Write([]byte("err " + err.Error() + "\n"))
		return
	}
	u.Write([]byte("ok\n"))
}
