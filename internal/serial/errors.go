// internal/serial/errors.go
package serial

import "errors"

// Kind classifies a serial subsystem failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindResourceExhausted
	KindNotReady
	KindInvalidHandle
	KindIo
	KindConsistency
	KindOutOfMemory
)

var (
	// ErrNoFreeSignal is returned by Start when every real-time signal is taken.
	ErrNoFreeSignal = errors.New("no free real-time signal")
	// ErrNotStarted is returned by port operations before Start.
	ErrNotStarted = errors.New("serial bus not started")
	// ErrNullPort is returned for a zero or unknown port handle.
	ErrNullPort = errors.New("invalid port handle")
	// ErrOpenFailed wraps the OS error of a failed open.
	ErrOpenFailed = errors.New("failed to open serial port")
	// ErrOops is returned by Close when the handle is not owned by the bus.
	ErrOops = errors.New("port not found in bus")
	// ErrOutOfMemory is returned when the port arena is full.
	ErrOutOfMemory = errors.New("port arena exhausted")
)

// KindOf maps err to its Kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNoFreeSignal):
		return KindResourceExhausted
	case errors.Is(err, ErrNotStarted):
		return KindNotReady
	case errors.Is(err, ErrNullPort):
		return KindInvalidHandle
	case errors.Is(err, ErrOops):
		return KindConsistency
	case errors.Is(err, ErrOutOfMemory):
		return KindOutOfMemory
	default:
		return KindIo
	}
}

func (k Kind) String() string {
	switch k {
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindNotReady:
		return "not_ready"
	case KindInvalidHandle:
		return "invalid_handle"
	case KindIo:
		return "io"
	case KindConsistency:
		return "consistency"
	case KindOutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}
