//go:build linux

// internal/serial/bus_linux.go
package serial

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// maxDispatchRounds bounds the epoll rounds handled per wake-up so Stop is never starved.
const maxDispatchRounds = 64

// Bus owns every open Port and the real-time signal used to wake its dispatcher.
//
// The signal only wakes the dispatcher goroutine. Reads and sink calls happen
// there, in ordinary goroutine context, after epoll has reported which
// descriptors are ready.
type Bus struct {
	mu         sync.Mutex
	started    bool
	signal     syscall.Signal
	sigCh      chan os.Signal
	epfd       int
	ports      map[Handle]*Port
	byFd       map[int]Handle
	nextHandle Handle
	done       chan struct{}
	wg         sync.WaitGroup

	sweepInterval time.Duration
	maxPorts      int
	sigLow        int
	sigHigh       int
	logger        *zap.Logger
}

// NewBus creates a stopped bus.
func NewBus(logger *zap.Logger, opts ...Option) (*Bus, error) {
	b := &Bus{
		epfd:          -1,
		ports:         make(map[Handle]*Port),
		byFd:          make(map[int]Handle),
		sweepInterval: defaultSweepInterval,
		maxPorts:      defaultMaxPorts,
		sigLow:        sigRTMin,
		sigHigh:       sigRTMax,
		logger:        logger.With(zap.String("component", "serial-bus")),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("failed to apply bus option: %w", err)
		}
	}
	return b, nil
}

// Start claims a real-time signal and launches the dispatcher.
// Calling Start on a started bus is a no-op.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}

	sig, err := claimSignal(b.sigLow, b.sigHigh)
	if err != nil {
		return err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		releaseSignal(sig)
		return fmt.Errorf("failed to create epoll instance: %w", err)
	}

	b.sigCh = make(chan os.Signal, 1)
	signal.Notify(b.sigCh, sig)

	b.signal = sig
	b.epfd = epfd
	b.done = make(chan struct{})
	b.started = true

	b.wg.Add(1)
	go b.dispatch(b.done, b.sigCh, epfd)

	b.logger.Info("Serial bus started",
		zap.Int("signal", int(sig)),
		zap.Duration("sweep_interval", b.sweepInterval),
	)
	return nil
}

// Stop closes every open port, stops the dispatcher and releases the signal.
// Calling Stop on a stopped bus is a no-op.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}

	var errs []error
	for h, p := range b.ports {
		if err := b.closeLocked(h, p); err != nil {
			errs = append(errs, err)
		}
	}
	b.started = false
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	signal.Stop(b.sigCh)
	releaseSignal(b.signal)
	if err := unix.Close(b.epfd); err != nil {
		errs = append(errs, fmt.Errorf("failed to close epoll instance: %w", err))
	}
	b.epfd = -1

	b.logger.Info("Serial bus stopped", zap.Int("signal", int(b.signal)))
	return errors.Join(errs...)
}

// Started reports whether Start has succeeded and Stop has not been called since.
func (b *Bus) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Signal returns the claimed real-time signal.
func (b *Bus) Signal() (syscall.Signal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signal, b.started
}

// Len returns the number of open ports.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ports)
}

// Open opens path non-blocking and applies cfg.
// With a non-nil sink, received bytes are delivered to sink(id, data) by the dispatcher.
// Without one, the caller reads synchronously with Read.
func (b *Bus) Open(path string, sink Sink, id int, cfg LineConfig) (Handle, error) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return 0, ErrNotStarted
	}
	if len(b.ports) >= b.maxPorts {
		b.mu.Unlock()
		return 0, ErrOutOfMemory
	}
	sig := b.signal
	b.mu.Unlock()

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	p := &Port{fd: fd, path: path, id: id, sink: sink}

	saved, err := getTermios(fd)
	if err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	p.saved = *saved

	if err := p.configure(cfg); err != nil {
		p.release()
		return 0, fmt.Errorf("failed to configure %s: %w", path, err)
	}

	if sink != nil {
		if err := enableAsync(fd, int(sig)); err != nil {
			p.release()
			return 0, fmt.Errorf("failed to enable delivery on %s: %w", path, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		p.release()
		return 0, ErrNotStarted
	}

	if sink != nil {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			p.release()
			return 0, fmt.Errorf("failed to register %s for delivery: %w", path, err)
		}
	}

	b.nextHandle++
	h := b.nextHandle
	b.ports[h] = p
	b.byFd[fd] = h

	b.logger.Debug("Serial port opened",
		zap.String("path", path),
		zap.Int("id", id),
		zap.Int("handle", int(h)),
		zap.Bool("async", sink != nil),
		zap.String("line", cfg.String()),
	)
	return h, nil
}

// Configure reapplies the line settings of an open port.
func (b *Bus) Configure(h Handle, cfg LineConfig) error {
	return b.withPort(h, func(p *Port) error {
		return p.configure(cfg)
	})
}

// SetFlowControl toggles RTS/CTS and XON/XOFF independently.
func (b *Bus) SetFlowControl(h Handle, rtsCts, xonXoff bool) error {
	return b.withPort(h, func(p *Port) error {
		return p.update(func(t *unix.Termios) {
			applyFlowControl(t, rtsCts, xonXoff)
		})
	})
}

// SetReadTimeout changes only VTIME, in deciseconds.
func (b *Bus) SetReadTimeout(h Handle, deciseconds uint8) error {
	return b.withPort(h, func(p *Port) error {
		return p.update(func(t *unix.Termios) {
			t.Cc[unix.VTIME] = deciseconds
		})
	})
}

// Flush discards pending data in the selected direction.
func (b *Bus) Flush(h Handle, q Queue) error {
	return b.withPort(h, func(p *Port) error {
		return flush(p.fd, q)
	})
}

// Attributes reads the live termios of the port.
func (b *Bus) Attributes(h Handle) (*unix.Termios, error) {
	var t *unix.Termios
	err := b.withPort(h, func(p *Port) error {
		var err error
		t, err = getTermios(p.fd)
		return err
	})
	return t, err
}

// Write is a single best-effort write. Short writes are not retried.
func (b *Bus) Write(h Handle, data []byte) (int, error) {
	p, err := b.port(h)
	if err != nil {
		return 0, err
	}
	n, err := unix.Write(p.fd, data)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", p.path, err)
	}
	return n, nil
}

// Read reads whatever is available. It returns 0 and no error when nothing is pending.
func (b *Bus) Read(h Handle, buf []byte) (int, error) {
	p, err := b.port(h)
	if err != nil {
		return 0, err
	}
	n, err := unix.Read(p.fd, buf)
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from %s: %w", p.path, err)
	}
	return n, nil
}

// ReadByte reads one byte. ok is false when nothing is pending.
func (b *Bus) ReadByte(h Handle) (c byte, ok bool, err error) {
	var one [1]byte
	n, err := b.Read(h, one[:])
	if err != nil || n == 0 {
		return 0, false, err
	}
	return one[0], true, nil
}

// Drain blocks until all queued output has been transmitted.
func (b *Bus) Drain(h Handle) error {
	p, err := b.port(h)
	if err != nil {
		return err
	}
	return drain(p.fd)
}

// Close flushes the port, restores the termios captured at Open and closes it.
func (b *Bus) Close(h Handle) error {
	if h <= 0 {
		return ErrNullPort
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.ports[h]
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrOops, h)
	}
	return b.closeLocked(h, p)
}

func (b *Bus) closeLocked(h Handle, p *Port) error {
	delete(b.ports, h)
	delete(b.byFd, p.fd)

	if p.sink != nil && !p.hungUp {
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, p.fd, nil)
	}

	err := p.release()
	b.logger.Debug("Serial port closed",
		zap.String("path", p.path),
		zap.Int("handle", int(h)),
		zap.Error(err),
	)
	return err
}

func (p *Port) release() error {
	var errs []error
	if err := flush(p.fd, QueueBoth); err != nil {
		errs = append(errs, err)
	}
	if err := setTermios(p.fd, &p.saved); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(p.fd); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s: %w", p.path, err))
	}
	return errors.Join(errs...)
}

func (b *Bus) port(h Handle) (*Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookupLocked(h)
}

func (b *Bus) lookupLocked(h Handle) (*Port, error) {
	if !b.started {
		return nil, ErrNotStarted
	}
	if h <= 0 {
		return nil, ErrNullPort
	}
	p, ok := b.ports[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrNullPort, h)
	}
	return p, nil
}

func (b *Bus) withPort(h Handle, fn func(p *Port) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.lookupLocked(h)
	if err != nil {
		return err
	}
	return fn(p)
}

func (b *Bus) dispatch(done <-chan struct{}, sigCh <-chan os.Signal, epfd int) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	events := make([]unix.EpollEvent, 32)
	for {
		select {
		case <-done:
			return
		case <-sigCh:
		case <-ticker.C:
		}

		for round := 0; round < maxDispatchRounds; round++ {
			n, err := unix.EpollWait(epfd, events, 0)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				b.logger.Error("Epoll wait failed", zap.Error(err))
				break
			}
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				b.deliver(int(events[i].Fd), events[i].Events)
			}
		}
	}
}

// deliver performs one read for a ready descriptor and hands the bytes to its sink.
func (b *Bus) deliver(fd int, mask uint32) {
	b.mu.Lock()
	h, ok := b.byFd[fd]
	if !ok {
		b.mu.Unlock()
		return
	}
	p := b.ports[h]

	n, err := unix.Read(fd, p.buf[:])
	var data []byte
	if n > 0 {
		data = make([]byte, n)
		copy(data, p.buf[:n])
	}

	hangup := false
	if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
		hangup = true
	}
	if mask&(unix.EPOLLHUP|unix.EPOLLERR) != 0 && n <= 0 {
		hangup = true
	}
	if hangup && !p.hungUp {
		p.hungUp = true
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	sink, id, path := p.sink, p.id, p.path
	b.mu.Unlock()

	if hangup {
		b.logger.Warn("Serial port hung up", zap.String("path", path), zap.Error(err))
	}
	if len(data) > 0 && sink != nil {
		sink(id, data)
	}
}
