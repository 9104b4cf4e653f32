//go:build linux

// internal/serial/options_linux.go
package serial

import (
	"fmt"
	"time"
)

const (
	defaultSweepInterval = 200 * time.Millisecond
	defaultMaxPorts      = 256
	// DefaultReadTimeout is VTIME in deciseconds applied by Configure.
	DefaultReadTimeout = 5
)

// Option configures a Bus.
type Option func(*Bus) error

// WithSweepInterval sets how often the dispatcher polls for readiness
// without a signal wake-up.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Bus) error {
		if d <= 0 {
			return fmt.Errorf("sweep interval must be positive: %v", d)
		}
		b.sweepInterval = d
		return nil
	}
}

// WithMaxPorts bounds the number of simultaneously open ports.
func WithMaxPorts(n int) Option {
	return func(b *Bus) error {
		if n <= 0 {
			return fmt.Errorf("max ports must be positive: %d", n)
		}
		b.maxPorts = n
		return nil
	}
}

// WithSignalRange restricts the real-time signals Start may claim.
func WithSignalRange(low, high int) Option {
	return func(b *Bus) error {
		if low < sigRTMin || high > sigRTMax || low > high {
			return fmt.Errorf("invalid signal range %d-%d", low, high)
		}
		b.sigLow, b.sigHigh = low, high
		return nil
	}
}
