// internal/handshake/config.go
package handshake

import (
	"time"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/serial"
)

// Config holds the timing of the handshake
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	VersionTimeout    time.Duration
	HeartbeatPoll     time.Duration
	VersionPoll       time.Duration
	TargetSystem      uint8
	TargetComponent   uint8
	Line              serial.LineConfig
}

// DefaultConfig returns the protocol-standard timing at 115200 8N1
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 500 * time.Millisecond,
		HeartbeatTimeout:  2500 * time.Millisecond,
		VersionTimeout:    3000 * time.Millisecond,
		HeartbeatPoll:     10 * time.Millisecond,
		VersionPoll:       100 * time.Millisecond,
		TargetSystem:      1,
		TargetComponent:   1,
		Line: serial.LineConfig{
			BaudRate: 115200,
			DataBits: 8,
			Parity:   serial.ParityNone,
			StopBits: 1,
		},
	}
}
