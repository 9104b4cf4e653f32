// internal/serial/config.go
package serial

import "fmt"

// Handle addresses a Port owned by a Bus. Zero is never a valid handle.
type Handle int

// Sink receives bytes read from a port opened for asynchronous delivery.
// It runs on the bus dispatcher goroutine and must not block for long.
type Sink func(id int, data []byte)

// Parity selects the parity mode of a line.
type Parity int

const (
	ParityNone Parity = 0
	ParityOdd  Parity = 1
	ParityEven Parity = 2
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "none"
	}
}

// ParseParity converts a config string to a Parity.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "none", "N", "n":
		return ParityNone, nil
	case "odd", "O", "o":
		return ParityOdd, nil
	case "even", "E", "e":
		return ParityEven, nil
	default:
		return ParityNone, fmt.Errorf("invalid parity: %s", s)
	}
}

// Queue selects which direction a flush discards.
type Queue int

const (
	QueueInput Queue = iota
	QueueOutput
	QueueBoth
)

// LineConfig is the requested line discipline of a port.
// Unsupported baud rates fall back to 9600 and unsupported data bits to 8.
type LineConfig struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits int
}

// DefaultLineConfig returns 9600 8N1.
func DefaultLineConfig() LineConfig {
	return LineConfig{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 1,
	}
}

func (c LineConfig) String() string {
	letter := "N"
	switch c.Parity {
	case ParityOdd:
		letter = "O"
	case ParityEven:
		letter = "E"
	}
	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, letter, c.StopBits)
}
