//go:build linux

// internal/serial/port_linux.go
package serial

import "golang.org/x/sys/unix"

const recvBufferSize = 255

// Port is one open serial line.
type Port struct {
	fd     int
	path   string
	id     int
	sink   Sink
	saved  unix.Termios
	active unix.Termios
	hungUp bool
	buf    [recvBufferSize]byte
}

// Path returns the device path the port was opened with.
func (p *Port) Path() string {
	return p.path
}

// ID returns the caller-supplied identifier passed to every sink invocation.
func (p *Port) ID() int {
	return p.id
}

func (p *Port) configure(cfg LineConfig) error {
	t, err := getTermios(p.fd)
	if err != nil {
		return err
	}
	applyLineConfig(t, cfg)

	if err := flush(p.fd, QueueBoth); err != nil {
		return err
	}
	if err := setTermios(p.fd, t); err != nil {
		return err
	}
	if err := flush(p.fd, QueueBoth); err != nil {
		return err
	}
	p.active = *t
	return nil
}

func (p *Port) update(mutate func(t *unix.Termios)) error {
	t := p.active
	mutate(&t)
	if err := setTermios(p.fd, &t); err != nil {
		return err
	}
	p.active = t
	return nil
}
