// internal/model/device.go
package model

import "time"

// HandshakeState is the progress of one device through the discovery handshake
type HandshakeState string

const (
	StateOpening           HandshakeState = "opening"
	StateAwaitingHeartbeat HandshakeState = "awaiting_heartbeat"
	StateAwaitingVersion   HandshakeState = "awaiting_version"
	StateIdentified        HandshakeState = "identified"
	StateTimedOut          HandshakeState = "timed_out"
)

// Terminal reports whether no further transition can happen
func (s HandshakeState) Terminal() bool {
	return s == StateIdentified || s == StateTimedOut
}

// Timeout reasons recorded on a TimedOut device
const (
	ReasonOpenFailed     = "open failed"
	ReasonNotCompatible  = "not compatible"
	ReasonVersionTimeout = "version timeout"
	ReasonCancelled      = "cancelled"
)

// DeviceStatus is the externally visible view of a tracked device
type DeviceStatus struct {
	Path             string          `json:"dev_path"`
	ID               int             `json:"device_id"`
	State            HandshakeState  `json:"state"`
	Reason           string          `json:"reason,omitempty"`
	MavlinkValid     bool            `json:"mavlink_valid"`
	Running          bool            `json:"running"`
	Identity         *DeviceIdentity `json:"identity,omitempty"`
	HeartbeatSeenAt  *time.Time      `json:"heartbeat_seen_at,omitempty"`
	RequestStartedAt time.Time       `json:"request_started_at"`
}

// DeviceState is the routing action sent to the MAVLink router
type DeviceState struct {
	DevPath string `json:"dev_path"`
	Enable  bool   `json:"enable"`
}

// PortInfo describes a serial character device found on the host
type PortInfo struct {
	DevPath          string `json:"dev_path"`
	DevName          string `json:"dev_name"`
	VID              string `json:"vid"`
	PID              string `json:"pid"`
	Manufacturer     string `json:"manufacturer"`
	Product          string `json:"product"`
	Serial           string `json:"serial"`
	USBInfoAvailable bool   `json:"usb_info_available"`
}
