package types

import "statuspod/bus"

// Shared bus topics. Retained topics hold the latest value for late joiners.
var (
	TopicPresence      = bus.T("presence", "update")  // retained types.Presence
	TopicBattery       = bus.T("battery", "status")   // retained types.BatteryStatus
	TopicScreenRequest = bus.T("screen", "request")   // types.ScreenRequest
	TopicNotify        = bus.T("notify", "event")     // types.NotifyKind
	TopicAppState      = bus.T("app", "state")        // retained string
	TopicSettings      = bus.T("config", "settings")  // retained types.Settings
)

// TopicButton addresses one button's event stream.
func TopicButton(id ButtonID) bus.Topic { return bus.T("button", string(id), "event") }

// TopicButtonAny matches every button's event stream.
var TopicButtonAny = bus.T("button", "+", "event")
