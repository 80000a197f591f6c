// Package retained is the serialize/deserialize contract for the small
// memory region that survives deep sleep but not a cold boot. Nothing the
// wake path needs may live only in ordinary memory before a deep-sleep call.
package retained

import (
	"fmt"
	"os"
	"sync"

	"statuspod/types"
)

// Size is the fixed region size in bytes.
const Size = 40

// Layout: magic(2) version(1) flags(1) stableCycles(1) availLen(1)
// avail(31) crc(1) — 38 bytes used, remainder reserved.
const (
	magic0 = 0x5A
	magic1 = 0xA5
	version = 1

	flagDeepSleepArmed = 1 << 0

	maxAvail = 31
	crcOff   = 37
)

// WakeCause discriminates how the boot path was entered. Cold boot makes the
// region contents unauthoritative no matter what they hold.
type WakeCause uint8

const (
	WakeColdBoot WakeCause = iota
	WakeTimer
	WakeButton
)

func (w WakeCause) String() string {
	switch w {
	case WakeTimer:
		return "timer"
	case WakeButton:
		return "button"
	}
	return "cold_boot"
}

// State is the retained triple.
type State struct {
	DeepSleepArmed   bool
	StableCycles     uint8
	LastAvailability types.Availability
}

// Region abstracts the physical retained memory.
type Region interface {
	Read() [Size]byte
	Write([Size]byte) error
}

// Save serializes st into the region.
func Save(r Region, st State) error {
	var buf [Size]byte
	buf[0], buf[1] = magic0, magic1
	buf[2] = version
	if st.DeepSleepArmed {
		buf[3] |= flagDeepSleepArmed
	}
	buf[4] = st.StableCycles

	avail := string(st.LastAvailability)
	if len(avail) > maxAvail {
		avail = avail[:maxAvail]
	}
	buf[5] = byte(len(avail))
	copy(buf[6:6+maxAvail], avail)

	buf[crcOff] = crc8(buf[:crcOff])
	return r.Write(buf)
}

// Load reads the region honoring the wake cause. A cold boot always yields
// the zero state; a timer/button wake yields the stored state when magic,
// version and CRC check out, and the zero state otherwise. The second
// return reports whether stored state was accepted.
func Load(r Region, cause WakeCause) (State, bool) {
	if cause == WakeColdBoot {
		return State{}, false
	}
	buf := r.Read()
	if buf[0] != magic0 || buf[1] != magic1 || buf[2] != version {
		return State{}, false
	}
	if crc8(buf[:crcOff]) != buf[crcOff] {
		return State{}, false
	}
	n := int(buf[5])
	if n > maxAvail {
		return State{}, false
	}
	return State{
		DeepSleepArmed:   buf[3]&flagDeepSleepArmed != 0,
		StableCycles:     buf[4],
		LastAvailability: types.Availability(buf[6 : 6+n]),
	}, true
}

// Clear zeroes the region.
func Clear(r Region) error {
	var zero [Size]byte
	return r.Write(zero)
}

// crc8 is CRC-8/ATM (poly 0x07), enough to catch a partly-written region.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// -----------------------------------------------------------------------------
// Regions
// -----------------------------------------------------------------------------

// Mem is an in-memory region for tests.
type Mem struct {
	mu  sync.Mutex
	buf [Size]byte
}

func (m *Mem) Read() [Size]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf
}

func (m *Mem) Write(b [Size]byte) error {
	m.mu.Lock()
	m.buf = b
	m.mu.Unlock()
	return nil
}

// File is a host-side region: a tiny file that survives the process restart
// standing in for a deep-sleep cycle. Cold-boot semantics still come from
// the wake cause, not from the file's presence.
type File struct {
	Path string
}

func (f *File) Read() [Size]byte {
	var buf [Size]byte
	b, err := os.ReadFile(f.Path)
	if err != nil || len(b) != Size {
		return buf
	}
	copy(buf[:], b)
	return buf
}

func (f *File) Write(b [Size]byte) error {
	if err := os.WriteFile(f.Path, b[:], 0o600); err != nil {
		return fmt.Errorf("retained: write %s: %w", f.Path, err)
	}
	return nil
}
