//go:build linux

// internal/serial/pty_linux_test.go
package serial

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

// pty is a pseudo-terminal pair. holder keeps the slave side referenced so its
// termios survives while ports are opened and closed on it.
type pty struct {
	master int
	holder int
	path   string
}

func openPty(t *testing.T) *pty {
	t.Helper()

	master, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("pseudo-terminals unavailable: %v", err)
	}
	if err := unix.IoctlSetPointerInt(master, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(master)
		t.Skipf("failed to unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(master, unix.TIOCGPTN)
	if err != nil {
		unix.Close(master)
		t.Skipf("failed to get pty number: %v", err)
	}

	path := fmt.Sprintf("/dev/pts/%d", n)
	holder, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(master)
		t.Skipf("failed to open pty slave: %v", err)
	}

	p := &pty{master: master, holder: holder, path: path}
	t.Cleanup(func() {
		unix.Close(p.holder)
		unix.Close(p.master)
	})
	return p
}

func (p *pty) termios(t *testing.T) *unix.Termios {
	t.Helper()
	tio, err := unix.IoctlGetTermios(p.holder, unix.TCGETS)
	if err != nil {
		t.Fatalf("failed to read termios of %s: %v", p.path, err)
	}
	return tio
}

// sameLine compares the fields the kernel keeps. Ispeed and Ospeed are not
// round-tripped by TCSETS on every architecture.
func sameLine(t *testing.T, want, got *unix.Termios) {
	t.Helper()
	if want.Cflag != got.Cflag || want.Iflag != got.Iflag ||
		want.Oflag != got.Oflag || want.Lflag != got.Lflag || want.Cc != got.Cc {
		t.Fatalf("termios mismatch:\nwant %+v\n got %+v", *want, *got)
	}
}
