// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDeviceAppeared   EventType = "DEVICE_APPEARED"
	EventDeviceVanished   EventType = "DEVICE_VANISHED"
	EventStateChange      EventType = "STATE_CHANGE"
	EventDeviceIdentified EventType = "DEVICE_IDENTIFIED"
	EventDeviceTimedOut   EventType = "DEVICE_TIMED_OUT"
	EventDeviceOpenFailed EventType = "DEVICE_OPEN_FAILED"
)

// DeviceEvent represents a change to a tracked device
type DeviceEvent struct {
	ID        uuid.UUID      `json:"id"`
	EventType EventType      `json:"event_type"`
	DevPath   string         `json:"dev_path"`
	DeviceID  int            `json:"device_id"`
	State     HandshakeState `json:"state,omitempty"`
	Data      interface{}    `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"` // INFO, WARNING, ERROR
}

// NewDeviceEvent stamps a new event for path
func NewDeviceEvent(eventType EventType, path string, id int, state HandshakeState, data interface{}) DeviceEvent {
	severity := "INFO"
	switch eventType {
	case EventDeviceTimedOut:
		severity = "WARNING"
	case EventDeviceOpenFailed:
		severity = "ERROR"
	}
	return DeviceEvent{
		ID:        uuid.New(),
		EventType: eventType,
		DevPath:   path,
		DeviceID:  id,
		State:     state,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "ur-discovery",
		Severity:  severity,
	}
}
