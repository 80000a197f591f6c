// Package es8311 is a minimal driver for the ES8311 low-power audio codec
// over I2C: power sequencing, volume and mute. The audio data path (I2S)
// belongs to the platform; this driver only manages the control plane.
package es8311

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Default I2C address (CE pin low).
const Address = 0x18

// Registers.
const (
	regReset      = 0x00
	regClockMgr1  = 0x01
	regSDPOut     = 0x09
	regSystem1    = 0x0D
	regSystem2    = 0x0E
	regDACVolume  = 0x32
	regDACControl = 0x31
	regChipID1    = 0xFD
	regChipID2    = 0xFE
)

const (
	chipID1 = 0x83
	chipID2 = 0x11
)

var ErrWrongChip = errors.New("es8311: chip id mismatch")

type Device struct {
	bus     drivers.I2C
	Address uint16
	volume  uint8
}

func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address, volume: 0xBF}
}

// Configure verifies the chip and brings it out of reset, powered down.
func (d *Device) Configure() error {
	id1, err := d.readReg(regChipID1)
	if err != nil {
		return err
	}
	id2, err := d.readReg(regChipID2)
	if err != nil {
		return err
	}
	if id1 != chipID1 || id2 != chipID2 {
		return ErrWrongChip
	}

	// Soft reset, then hold in standby until Enable.
	if err := d.writeReg(regReset, 0x1F); err != nil {
		return err
	}
	if err := d.writeReg(regReset, 0x00); err != nil {
		return err
	}
	return d.PowerDown()
}

// Enable powers the DAC path up at the cached volume.
func (d *Device) Enable() error {
	if err := d.writeReg(regClockMgr1, 0x3F); err != nil {
		return err
	}
	if err := d.writeReg(regSystem1, 0x01); err != nil {
		return err
	}
	if err := d.writeReg(regSystem2, 0x02); err != nil {
		return err
	}
	if err := d.writeReg(regDACControl, 0x00); err != nil { // unmute
		return err
	}
	return d.writeReg(regDACVolume, d.volume)
}

// PowerDown mutes and gates the clocks. Idle draw matters on battery.
func (d *Device) PowerDown() error {
	if err := d.writeReg(regDACControl, 0x20); err != nil { // mute
		return err
	}
	if err := d.writeReg(regSystem1, 0x00); err != nil {
		return err
	}
	return d.writeReg(regClockMgr1, 0x00)
}

// SetVolume sets DAC volume 0..255 (register scale); cached across
// power cycles of the codec.
func (d *Device) SetVolume(v uint8) error {
	d.volume = v
	return d.writeReg(regDACVolume, v)
}

// Mute toggles the DAC mute bit without touching power state.
func (d *Device) Mute(on bool) error {
	if on {
		return d.writeReg(regDACControl, 0x20)
	}
	return d.writeReg(regDACControl, 0x00)
}

func (d *Device) writeReg(reg, val byte) error {
	return d.bus.Tx(d.Address, []byte{reg, val}, nil)
}

func (d *Device) readReg(reg byte) (byte, error) {
	out := []byte{0}
	if err := d.bus.Tx(d.Address, []byte{reg}, out); err != nil {
		return 0, err
	}
	return out[0], nil
}
