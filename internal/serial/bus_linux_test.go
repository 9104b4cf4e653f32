//go:build linux

// internal/serial/bus_linux_test.go
package serial

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func startedBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	bus, err := NewBus(zap.NewNop(), opts...)
	require.NoError(t, err)
	require.NoError(t, bus.Start())
	t.Cleanup(func() { _ = bus.Stop() })
	return bus
}

func TestBus_OpenBeforeStart(t *testing.T) {
	bus, err := NewBus(zap.NewNop())
	require.NoError(t, err)

	_, err = bus.Open("/dev/null", nil, 1, DefaultLineConfig())
	require.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, KindNotReady, KindOf(err))
}

func TestBus_StartIsIdempotent(t *testing.T) {
	bus := startedBus(t)

	sig, ok := bus.Signal()
	require.True(t, ok)
	assert.GreaterOrEqual(t, int(sig), 35, "signal 34 is reserved by the Go runtime")

	require.NoError(t, bus.Start())
	again, _ := bus.Signal()
	assert.Equal(t, sig, again)
}

func TestBus_StopIsIdempotent(t *testing.T) {
	bus := startedBus(t)

	require.NoError(t, bus.Stop())
	require.NoError(t, bus.Stop())
	assert.False(t, bus.Started())
}

func TestBus_SignalExhaustion(t *testing.T) {
	first := startedBus(t, WithSignalRange(sigRTMax, sigRTMax))

	second, err := NewBus(zap.NewNop(), WithSignalRange(sigRTMax, sigRTMax))
	require.NoError(t, err)
	err = second.Start()
	require.ErrorIs(t, err, ErrNoFreeSignal)
	assert.Equal(t, KindResourceExhausted, KindOf(err))

	// Releasing the signal makes it available again.
	require.NoError(t, first.Stop())
	require.NoError(t, second.Start())
	require.NoError(t, second.Stop())
}

func TestBus_SignalRangeRejectsReserved(t *testing.T) {
	tests := []struct {
		name      string
		low, high int
	}{
		{"glibc", 33, 40},
		{"go runtime", 34, 40},
		{"above max", 40, 65},
		{"inverted", 50, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBus(zap.NewNop(), WithSignalRange(tt.low, tt.high))
			assert.Error(t, err)
		})
	}

	_, err := NewBus(zap.NewNop(), WithSignalRange(35, 35))
	assert.NoError(t, err)
}

func TestBus_InvalidHandles(t *testing.T) {
	bus := startedBus(t)

	_, err := bus.Write(0, []byte{1})
	assert.ErrorIs(t, err, ErrNullPort)

	_, err = bus.Read(42, make([]byte, 8))
	assert.ErrorIs(t, err, ErrNullPort)
	assert.Equal(t, KindInvalidHandle, KindOf(err))

	assert.ErrorIs(t, bus.Close(0), ErrNullPort)

	err = bus.Close(42)
	assert.ErrorIs(t, err, ErrOops)
	assert.Equal(t, KindConsistency, KindOf(err))
}

func TestBus_OpenFailure(t *testing.T) {
	bus := startedBus(t)

	_, err := bus.Open("/dev/does-not-exist-ur", nil, 1, DefaultLineConfig())
	require.ErrorIs(t, err, ErrOpenFailed)
	assert.Equal(t, KindIo, KindOf(err))
	assert.ErrorIs(t, err, unix.ENOENT)
	assert.Zero(t, bus.Len())
}

func TestBus_MaxPorts(t *testing.T) {
	bus := startedBus(t, WithMaxPorts(1))
	a := openPty(t)
	b := openPty(t)

	h, err := bus.Open(a.path, nil, 1, DefaultLineConfig())
	require.NoError(t, err)

	_, err = bus.Open(b.path, nil, 2, DefaultLineConfig())
	require.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, bus.Close(h))
}

func TestBus_ConfigureRoundTrip(t *testing.T) {
	bus := startedBus(t)
	p := openPty(t)

	h, err := bus.Open(p.path, nil, 1, DefaultLineConfig())
	require.NoError(t, err)
	defer bus.Close(h)

	// Pseudo-terminals force CS8 without parity, so framing beyond speed and
	// stop bits is covered by TestApplyLineConfig.
	for rate := range baudRates {
		for _, stop := range []int{1, 2} {
			cfg := LineConfig{BaudRate: rate, DataBits: 8, Parity: ParityNone, StopBits: stop}
			require.NoError(t, bus.Configure(h, cfg))

			tio, err := bus.Attributes(h)
			require.NoError(t, err)

			got := LineConfigFromTermios(tio)
			assert.Equal(t, cfg, got, "configured %s", cfg)
			assert.Zero(t, tio.Lflag&(unix.ICANON|unix.ECHO|unix.ECHOE|unix.ISIG))
			assert.Zero(t, tio.Oflag&unix.OPOST)
			assert.Equal(t, uint8(0), tio.Cc[unix.VMIN])
			assert.Equal(t, uint8(DefaultReadTimeout), tio.Cc[unix.VTIME])
		}
	}
}

func TestBus_UnknownBaudFallsBack(t *testing.T) {
	bus := startedBus(t)
	p := openPty(t)

	h, err := bus.Open(p.path, nil, 1, LineConfig{BaudRate: 123456, DataBits: 8, StopBits: 1})
	require.NoError(t, err)
	defer bus.Close(h)

	tio, err := bus.Attributes(h)
	require.NoError(t, err)
	assert.Equal(t, 9600, BaudFromFlags(tio.Cflag))
}

func TestBus_FlowControlAndTimeout(t *testing.T) {
	bus := startedBus(t)
	p := openPty(t)

	h, err := bus.Open(p.path, nil, 1, DefaultLineConfig())
	require.NoError(t, err)
	defer bus.Close(h)

	require.NoError(t, bus.SetFlowControl(h, false, true))
	tio, err := bus.Attributes(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.IXON|unix.IXOFF), tio.Iflag&(unix.IXON|unix.IXOFF))

	require.NoError(t, bus.SetFlowControl(h, false, false))
	tio, err = bus.Attributes(h)
	require.NoError(t, err)
	assert.Zero(t, tio.Iflag&(unix.IXON|unix.IXOFF))

	require.NoError(t, bus.SetReadTimeout(h, 20))
	tio, err = bus.Attributes(h)
	require.NoError(t, err)
	assert.Equal(t, uint8(20), tio.Cc[unix.VTIME])
	assert.Equal(t, uint8(0), tio.Cc[unix.VMIN])
}

func TestBus_CloseRestoresSavedTermios(t *testing.T) {
	bus := startedBus(t)
	p := openPty(t)

	before := p.termios(t)

	h, err := bus.Open(p.path, nil, 1, LineConfig{BaudRate: 57600, DataBits: 8, StopBits: 2})
	require.NoError(t, err)
	require.NoError(t, bus.Configure(h, LineConfig{BaudRate: 1200, DataBits: 8, StopBits: 1}))
	require.NoError(t, bus.SetFlowControl(h, false, true))
	require.NoError(t, bus.SetReadTimeout(h, 1))

	require.NoError(t, bus.Close(h))
	sameLine(t, before, p.termios(t))
	assert.Zero(t, bus.Len())
}

func TestBus_SyncReadWrite(t *testing.T) {
	bus := startedBus(t)
	p := openPty(t)

	h, err := bus.Open(p.path, nil, 1, DefaultLineConfig())
	require.NoError(t, err)
	defer bus.Close(h)

	n, err := bus.Read(h, make([]byte, 16))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = unix.Write(p.master, []byte("ok"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		c, ok, err := bus.ReadByte(h)
		if err != nil || !ok {
			return false
		}
		got = append(got, c)
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("ok"), got)

	n, err = bus.Write(h, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, bus.Drain(h))
	require.NoError(t, bus.Flush(h, QueueInput))
}

func TestBus_AsyncDelivery(t *testing.T) {
	bus := startedBus(t, WithSweepInterval(20*time.Millisecond))
	p := openPty(t)

	var (
		mu  sync.Mutex
		ids []int
		buf []byte
	)
	sink := func(id int, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, id)
		buf = append(buf, data...)
	}

	h, err := bus.Open(p.path, sink, 7, DefaultLineConfig())
	require.NoError(t, err)

	_, err = unix.Write(p.master, []byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(buf) == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, id := range ids {
		assert.Equal(t, 7, id)
	}
	mu.Unlock()

	require.NoError(t, bus.Close(h))
}

func TestBus_ConcurrentOpenClose(t *testing.T) {
	const n = 8
	bus := startedBus(t, WithSweepInterval(20*time.Millisecond))

	ptys := make([]*pty, n)
	for i := range ptys {
		ptys[i] = openPty(t)
	}

	handles := make([]Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var sink Sink
			if i%2 == 0 {
				sink = func(int, []byte) {}
			}
			h, err := bus.Open(ptys[i].path, sink, i+1, DefaultLineConfig())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, bus.Len())

	seen := make(map[Handle]bool)
	for _, h := range handles {
		assert.False(t, seen[h], "handle %d reused", h)
		seen[h] = true
	}

	rand.Shuffle(len(handles), func(i, j int) { handles[i], handles[j] = handles[j], handles[i] })
	for _, h := range handles {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			assert.NoError(t, bus.Close(h))
		}(h)
	}
	wg.Wait()

	assert.Zero(t, bus.Len())
	require.NoError(t, bus.Stop())
	require.NoError(t, bus.Stop())
}

func TestBus_StopClosesOpenPorts(t *testing.T) {
	bus := startedBus(t)
	p := openPty(t)
	before := p.termios(t)

	_, err := bus.Open(p.path, func(int, []byte) {}, 1, LineConfig{BaudRate: 38400, DataBits: 8, StopBits: 2})
	require.NoError(t, err)

	require.NoError(t, bus.Stop())
	assert.Zero(t, bus.Len())
	sameLine(t, before, p.termios(t))
}
