//go:build linux

// internal/serial/signal_linux.go
package serial

import (
	"os/signal"
	"sync"
	"syscall"
)

// glibc reserves 32 and 33 for its threading internals. The Go runtime keeps 34
// for musl's SIGSYNCCALL and never installs a Notify handler for it, so a
// delivery of 34 would kill the process.
const (
	sigRTMin = 35
	sigRTMax = 64
)

// Signals are a process resource, so claims are tracked across every Bus.
var (
	claimMu sync.Mutex
	claimed = make(map[syscall.Signal]bool)
)

// claimSignal reserves the lowest free real-time signal in [low, high].
func claimSignal(low, high int) (syscall.Signal, error) {
	claimMu.Lock()
	defer claimMu.Unlock()

	for n := low; n <= high; n++ {
		sig := syscall.Signal(n)
		if claimed[sig] || signal.Ignored(sig) {
			continue
		}
		claimed[sig] = true
		return sig, nil
	}
	return 0, ErrNoFreeSignal
}

func releaseSignal(sig syscall.Signal) {
	claimMu.Lock()
	defer claimMu.Unlock()
	delete(claimed, sig)
}
