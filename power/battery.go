// Package power owns battery monitoring and the wake/sleep decision policy.
package power

import (
	"log/slog"

	"statuspod/types"
	"statuspod/x/mathx"
)

// LiPo curve and thresholds.
const (
	FullVoltage     = 4.20
	EmptyVoltage    = 3.00
	ExternalVoltage = 4.25 // at or above: charging from USB/external

	WarnPercent     = 15
	ShutdownPercent = 5
	warnHysteresis  = 5 // re-arm the warning once this far above WarnPercent
)

// VoltageReader is the hardware-facing contract. The driver is expected to
// average its samples; the monitor sees one settled reading.
type VoltageReader interface {
	ReadVoltage() (float64, error)
}

// Monitor converts voltage readings into BatteryStatus and latches the
// low-battery warning so it fires once per discharge.
type Monitor struct {
	reader VoltageReader
	log    *slog.Logger
	warned bool
}

func NewMonitor(reader VoltageReader, log *slog.Logger) *Monitor {
	return &Monitor{reader: reader, log: log.With("service", "power.battery")}
}

func (m *Monitor) Status() (types.BatteryStatus, error) {
	v, err := m.reader.ReadVoltage()
	if err != nil {
		return types.BatteryStatus{}, err
	}
	return types.BatteryStatus{
		Voltage:         v,
		Percent:         Percent(v),
		OnExternalPower: v >= ExternalVoltage,
	}, nil
}

// Percent maps voltage onto 0–100 along the linear LiPo approximation.
func Percent(voltage float64) int {
	return int(mathx.MapRange(voltage, EmptyVoltage, FullVoltage, 0, 100))
}

// ShouldWarn reports whether a low-battery warning is due now. External
// power clears the latch; recovery above WarnPercent+warnHysteresis
// re-arms it.
func (m *Monitor) ShouldWarn(st types.BatteryStatus) bool {
	if st.OnExternalPower {
		m.warned = false
		return false
	}
	if st.Percent > WarnPercent+warnHysteresis {
		m.warned = false
		return false
	}
	if st.Percent <= WarnPercent && !m.warned {
		m.warned = true
		m.log.Warn("low battery", "percent", st.Percent)
		return true
	}
	return false
}
