package power

import (
	"time"

	"statuspod/errcode"
	"statuspod/types"
)

// OfficeHours evaluates the configured minute-of-day window in its
// timezone. Day bitmask: bit 0 = Monday.
type OfficeHours struct {
	cfg types.OfficeHours
	loc *time.Location
}

func NewOfficeHours(cfg types.OfficeHours) (*OfficeHours, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidConfig, "power.NewOfficeHours", cfg.Timezone, err)
		}
		loc = l
	}
	return &OfficeHours{cfg: cfg, loc: loc}, nil
}

func (o *OfficeHours) Enabled() bool { return o != nil && o.cfg.Enabled }

func dayBit(wd time.Weekday) uint8 {
	// Go weekdays start at Sunday; the mask starts at Monday.
	return 1 << uint((int(wd)+6)%7)
}

// Contains reports whether now falls inside the window on an enabled day.
func (o *OfficeHours) Contains(now time.Time) bool {
	t := now.In(o.loc)
	if o.cfg.Days&dayBit(t.Weekday()) == 0 {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= o.cfg.StartMinute && minute < o.cfg.EndMinute
}

// NextStart returns the next window opening strictly after now.
func (o *OfficeHours) NextStart(now time.Time) time.Time {
	t := now.In(o.loc)
	for d := 0; d <= 7; d++ {
		day := t.AddDate(0, 0, d)
		if o.cfg.Days&dayBit(day.Weekday()) == 0 {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(),
			o.cfg.StartMinute/60, o.cfg.StartMinute%60, 0, 0, o.loc)
		if start.After(t) {
			return start
		}
	}
	// Empty day mask: nothing to wait for.
	return t
}
