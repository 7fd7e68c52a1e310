package realtime

import "encoding/json"

// Envelope frames every message on the session socket, both directions.
// Client to server: type "control" or "music_sync". Server to client:
// type "mqtt" (one per telemetry event) or "error" (session-scoped soft
// delivery failure).
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ControlData addresses one instruction at the actuator network. The same
// shape carries telemetry back out on "mqtt" events.
type ControlData struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// SyncData is one spectrum sample. Pointer fields so a missing or
// non-numeric band fails validation instead of defaulting to zero.
type SyncData struct {
	Bass   *float64 `json:"bass"`
	Mid    *float64 `json:"mid"`
	Treble *float64 `json:"treble"`
}

const (
	typeControl   = "control"
	typeMusicSync = "music_sync"
	typeMQTT      = "mqtt"
	typeError     = "error"
)
