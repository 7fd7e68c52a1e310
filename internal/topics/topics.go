// Package topics defines the MQTT channel namespace shared by the bridge and
// the LED controller firmware.
package topics

import "strings"

const (
	// ControlPrefix is the namespace for commands addressed to the strip.
	ControlPrefix = "led/control/"
	// ControlWildcard matches every control echo, including music data.
	ControlWildcard = "led/control/#"
	// Status carries free-text controller status (heartbeat, power_on, ...).
	Status = "led/status"
	// ConfigSave is published by the firmware when it persists its config.
	// The bridge observes and rebroadcasts it but never acts on it.
	ConfigSave = "led/config/save"
)

// Control parameters understood by the firmware.
const (
	ParamPower      = "power"
	ParamBrightness = "brightness"
	ParamColor      = "color"
	ParamMode       = "mode"
	ParamEffect     = "effect"
	ParamWifiConfig = "wifi_config"
	ParamMusicData  = "music_data"
)

// Control returns the full topic for a control parameter.
func Control(param string) string {
	return ControlPrefix + param
}

// MusicData is the high-rate channel for spectrum sync samples.
var MusicData = Control(ParamMusicData)

// WifiConfig is the push-configuration channel for network credentials.
var WifiConfig = Control(ParamWifiConfig)

// Subscriptions is the fixed pattern set the relay subscribes on connect.
// MusicData is covered by the control wildcard; subscribing it separately
// would double-deliver on brokers that honor overlapping subscriptions.
var Subscriptions = []string{ControlWildcard, Status, ConfigSave}

// IsControl reports whether topic is inside the control namespace and, if so,
// names the parameter segment.
func IsControl(topic string) (param string, ok bool) {
	if !strings.HasPrefix(topic, ControlPrefix) {
		return "", false
	}
	param = topic[len(ControlPrefix):]
	if param == "" || strings.Contains(param, "/") {
		return "", false
	}
	return param, true
}
