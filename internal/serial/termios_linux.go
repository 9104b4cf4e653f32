//go:build linux

// internal/serial/termios_linux.go
package serial

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// F_SETSIG is not exported for every architecture by x/sys.
const fSetSig = 0xa

var baudRates = map[int]uint32{
	75:     unix.B75,
	110:    unix.B110,
	150:    unix.B150,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// baudFlag returns the CBAUD value for rate, defaulting to B9600.
func baudFlag(rate int) uint32 {
	if flag, ok := baudRates[rate]; ok {
		return flag
	}
	return unix.B9600
}

// BaudFromFlags is the inverse of the Configure mapping.
func BaudFromFlags(cflag uint32) int {
	speed := cflag & unix.CBAUD
	for rate, flag := range baudRates {
		if flag == speed {
			return rate
		}
	}
	return 0
}

func dataBitsFlag(bits int) uint32 {
	if bits == 7 {
		return unix.CS7
	}
	return unix.CS8
}

func parityFlags(p Parity) uint32 {
	switch p {
	case ParityOdd:
		return unix.PARENB | unix.PARODD
	case ParityEven:
		return unix.PARENB
	default:
		return 0
	}
}

// LineConfigFromTermios decodes the line settings held in t.
func LineConfigFromTermios(t *unix.Termios) LineConfig {
	cfg := LineConfig{
		BaudRate: BaudFromFlags(t.Cflag),
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: 1,
	}
	if t.Cflag&unix.CSIZE == unix.CS7 {
		cfg.DataBits = 7
	}
	if t.Cflag&unix.PARENB != 0 {
		cfg.Parity = ParityEven
		if t.Cflag&unix.PARODD != 0 {
			cfg.Parity = ParityOdd
		}
	}
	if t.Cflag&unix.CSTOPB != 0 {
		cfg.StopBits = 2
	}
	return cfg
}

// applyLineConfig puts t into raw mode with the requested framing.
func applyLineConfig(t *unix.Termios, cfg LineConfig) {
	speed := baudFlag(cfg.BaudRate)

	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= dataBitsFlag(cfg.DataBits) | parityFlags(cfg.Parity) | speed
	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}

	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ISIG
	t.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL
	t.Oflag &^= unix.OPOST

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = DefaultReadTimeout

	t.Ispeed = speed
	t.Ospeed = speed
}

func applyFlowControl(t *unix.Termios, rtsCts, xonXoff bool) {
	if rtsCts {
		t.Cflag |= unix.CRTSCTS
	} else {
		t.Cflag &^= unix.CRTSCTS
	}
	if xonXoff {
		t.Iflag |= unix.IXON | unix.IXOFF
	} else {
		t.Iflag &^= unix.IXON | unix.IXOFF
	}
}

func getTermios(fd int) (*unix.Termios, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("failed to get termios: %w", err)
	}
	return t, nil
}

func setTermios(fd int, t *unix.Termios) error {
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}
	return nil
}

func flush(fd int, q Queue) error {
	selector := unix.TCIOFLUSH
	switch q {
	case QueueInput:
		selector = unix.TCIFLUSH
	case QueueOutput:
		selector = unix.TCOFLUSH
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, selector); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func drain(fd int) error {
	if err := unix.IoctlSetInt(fd, unix.TCSBRK, 1); err != nil {
		return fmt.Errorf("failed to drain: %w", err)
	}
	return nil
}

// enableAsync routes readiness of fd to sig.
func enableAsync(fd int, sig int) error {
	if _, err := unix.FcntlInt(uintptr(fd), fSetSig, sig); err != nil {
		return fmt.Errorf("failed to set owner signal: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETOWN, unix.Getpid()); err != nil {
		return fmt.Errorf("failed to set owner: %w", err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("failed to get file flags: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_ASYNC|unix.O_NONBLOCK); err != nil {
		return fmt.Errorf("failed to enable async delivery: %w", err)
	}
	return nil
}
