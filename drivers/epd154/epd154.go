// Package epd154 drives a 1.54" 200x200 monochrome e-paper panel
// (SSD1681-class controller) over SPI. The driver owns the framebuffer and
// the update sequencing; callers draw into the buffer and call Display.
//
// Partial updates are fast but ghost; callers should interleave full
// refreshes (the display service owns that cadence).
package epd154

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Panel geometry.
const (
	Width  = 200
	Height = 200

	bytesPerRow = Width / 8
	BufferSize  = bytesPerRow * Height
)

// Controller commands.
const (
	cmdDriverOutput      = 0x01
	cmdDeepSleep         = 0x10
	cmdDataEntryMode     = 0x11
	cmdSWReset           = 0x12
	cmdTempSensor        = 0x18
	cmdMasterActivation  = 0x20
	cmdDisplayUpdateCtl2 = 0x22
	cmdWriteRAM          = 0x24
	cmdBorderWaveform    = 0x3C
	cmdSetRAMXRange      = 0x44
	cmdSetRAMYRange      = 0x45
	cmdSetRAMXCounter    = 0x4E
	cmdSetRAMYCounter    = 0x4F

	updateFull    = 0xF7
	updatePartial = 0xFF
)

var ErrBusyTimeout = errors.New("epd154: busy timeout")

// Pin is a push-pull output line.
type Pin interface {
	High()
	Low()
}

// InPin is the BUSY input line; high while the controller is working.
type InPin interface {
	Get() bool
}

// Config controls non-hardware behaviour.
type Config struct {
	// BusyTimeout bounds one wait on the BUSY line. Full refreshes on cold
	// panels can take a few seconds. Default 5s.
	BusyTimeout time.Duration
	// BusyPoll is the BUSY sampling interval. Default 10ms.
	BusyPoll time.Duration
}

// Device is one panel. Not safe for concurrent use; the display service
// serializes access.
type Device struct {
	bus  drivers.SPI
	dc   Pin // data/command select: low = command
	cs   Pin
	rst  Pin
	busy InPin

	cfg Config
	buf [BufferSize]byte
}

// New creates the device. The SPI bus must already be configured.
func New(bus drivers.SPI, dc, cs, rst Pin, busy InPin) *Device {
	return &Device{bus: bus, dc: dc, cs: cs, rst: rst, busy: busy}
}

// Configure resets and initializes the controller.
func (d *Device) Configure(cfgs ...Config) error {
	if len(cfgs) > 0 {
		d.cfg = cfgs[0]
	}
	if d.cfg.BusyTimeout <= 0 {
		d.cfg.BusyTimeout = 5 * time.Second
	}
	if d.cfg.BusyPoll <= 0 {
		d.cfg.BusyPoll = 10 * time.Millisecond
	}

	d.Reset()
	d.command(cmdSWReset)
	if err := d.waitBusy(); err != nil {
		return err
	}

	d.command(cmdDriverOutput, byte(Height-1), byte((Height-1)>>8), 0x00)
	d.command(cmdDataEntryMode, 0x03) // x and y increment
	d.command(cmdSetRAMXRange, 0x00, bytesPerRow-1)
	d.command(cmdSetRAMYRange, 0x00, 0x00, byte(Height-1), byte((Height-1)>>8))
	d.command(cmdBorderWaveform, 0x05)
	d.command(cmdTempSensor, 0x80) // internal sensor
	return d.waitBusy()
}

// Reset pulses the hardware reset line.
func (d *Device) Reset() {
	d.rst.Low()
	time.Sleep(10 * time.Millisecond)
	d.rst.High()
	time.Sleep(10 * time.Millisecond)
}

// Clear fills the framebuffer with white.
func (d *Device) Clear() {
	for i := range d.buf {
		d.buf[i] = 0xFF
	}
}

// SetPixel sets one pixel; set=true is black. Out-of-range is ignored.
func (d *Device) SetPixel(x, y int, set bool) {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return
	}
	idx := y*bytesPerRow + x/8
	mask := byte(0x80 >> (x % 8))
	if set {
		d.buf[idx] &^= mask // 0 = black
	} else {
		d.buf[idx] |= mask
	}
}

// FillRect draws a filled rectangle.
func (d *Device) FillRect(x, y, w, h int, set bool) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			d.SetPixel(xx, yy, set)
		}
	}
}

// Buffer exposes the framebuffer for renderers that compose off-device.
func (d *Device) Buffer() []byte { return d.buf[:] }

// Display pushes the framebuffer and triggers a refresh.
func (d *Device) Display(full bool) error {
	d.command(cmdSetRAMXCounter, 0x00)
	d.command(cmdSetRAMYCounter, 0x00, 0x00)

	d.command(cmdWriteRAM)
	d.data(d.buf[:])

	mode := byte(updatePartial)
	if full {
		mode = updateFull
	}
	d.command(cmdDisplayUpdateCtl2, mode)
	d.command(cmdMasterActivation)
	return d.waitBusy()
}

// Sleep puts the controller into deep sleep; Configure wakes it.
func (d *Device) Sleep() error {
	d.command(cmdDeepSleep, 0x01)
	return nil
}

func (d *Device) command(cmd byte, args ...byte) {
	d.cs.Low()
	d.dc.Low()
	d.bus.Tx([]byte{cmd}, nil)
	if len(args) > 0 {
		d.dc.High()
		d.bus.Tx(args, nil)
	}
	d.cs.High()
}

func (d *Device) data(b []byte) {
	d.cs.Low()
	d.dc.High()
	d.bus.Tx(b, nil)
	d.cs.High()
}

func (d *Device) waitBusy() error {
	deadline := time.Now().Add(d.cfg.BusyTimeout)
	for d.busy.Get() {
		if time.Now().After(deadline) {
			return ErrBusyTimeout
		}
		time.Sleep(d.cfg.BusyPoll)
	}
	return nil
}
