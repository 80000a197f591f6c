package es8311

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeI2C struct {
	regs   map[byte]byte
	writes []struct{ reg, val byte }
}

func newFakeI2C() *fakeI2C {
	return &fakeI2C{regs: map[byte]byte{regChipID1: chipID1, regChipID2: chipID2}}
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	if len(w) == 2 && len(r) == 0 {
		f.regs[w[0]] = w[1]
		f.writes = append(f.writes, struct{ reg, val byte }{w[0], w[1]})
		return nil
	}
	if len(w) == 1 && len(r) == 1 {
		r[0] = f.regs[w[0]]
		return nil
	}
	return nil
}

func TestConfigureVerifiesChipID(t *testing.T) {
	bus := newFakeI2C()
	d := New(bus)
	require.NoError(t, d.Configure())

	bad := newFakeI2C()
	bad.regs[regChipID1] = 0x00
	require.ErrorIs(t, New(bad).Configure(), ErrWrongChip)
}

func TestEnableAppliesCachedVolume(t *testing.T) {
	bus := newFakeI2C()
	d := New(bus)
	require.NoError(t, d.SetVolume(0x80))
	require.NoError(t, d.Enable())
	require.Equal(t, byte(0x80), bus.regs[regDACVolume])
	require.Equal(t, byte(0x00), bus.regs[regDACControl], "unmuted")
}

func TestPowerDownMutesAndGatesClocks(t *testing.T) {
	bus := newFakeI2C()
	d := New(bus)
	require.NoError(t, d.Enable())
	require.NoError(t, d.PowerDown())
	require.Equal(t, byte(0x20), bus.regs[regDACControl], "muted")
	require.Equal(t, byte(0x00), bus.regs[regClockMgr1])
}
