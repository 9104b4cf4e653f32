// internal/handshake/worker_test.go
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/identity"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/mavlink"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/registry"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/serial"
)

// fakeDevice plays the flight controller behind a fake bus.
type fakeDevice struct {
	mu             sync.Mutex
	openErr        error
	sink           serial.Sink
	id             int
	opened         bool
	closed         bool
	heartbeats     bool
	versions       int
	version        mavlink.AutopilotVersion
	heartbeatReqs  int
	versionReqs    int
	lastVersionReq *mavlink.Frame
}

func (d *fakeDevice) Open(path string, sink serial.Sink, id int, cfg serial.LineConfig) (serial.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return 0, d.openErr
	}
	d.sink, d.id, d.opened = sink, id, true
	return 1, nil
}

func (d *fakeDevice) Write(h serial.Handle, data []byte) (int, error) {
	parser := mavlink.NewParser()
	for _, b := range data {
		frame, ok := parser.Parse(b)
		if !ok {
			continue
		}

		d.mu.Lock()
		var reply []byte
		switch frame.MsgID {
		case mavlink.MsgIDHeartbeat:
			d.heartbeatReqs++
			if d.heartbeats {
				reply = mavlink.PackHeartbeat(0, 1, 1, &mavlink.Heartbeat{Type: 2, Autopilot: 12, MavlinkVersion: 3})
			}
		case mavlink.MsgIDCommandLong:
			d.versionReqs++
			d.lastVersionReq = frame
			for i := 0; i < d.versions; i++ {
				reply = append(reply, mavlink.PackAutopilotVersion(uint8(i), 1, 1, &d.version)...)
			}
		}
		sink, id := d.sink, d.id
		d.mu.Unlock()

		if len(reply) > 0 {
			go sink(id, reply)
		}
	}
	return len(data), nil
}

func (d *fakeDevice) Close(h serial.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, payload})
	return nil
}

func (p *fakePublisher) topic(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type harness struct {
	device    *fakeDevice
	publisher *fakePublisher
	registry  *registry.Registry
	record    *registry.Record
	worker    *Worker

	mu     sync.Mutex
	states []model.HandshakeState
	events []model.EventType
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	cfg.VersionTimeout = 150 * time.Millisecond
	cfg.HeartbeatPoll = 2 * time.Millisecond
	cfg.VersionPoll = 5 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, device *fakeDevice) *harness {
	t.Helper()

	h := &harness{
		device:    device,
		publisher: &fakePublisher{},
		registry:  registry.New(registry.DefaultCapacity, zap.NewNop()),
	}
	rec, err := h.registry.Insert("/dev/ttyACM0")
	require.NoError(t, err)
	h.record = rec

	deps := Deps{
		Bus:       device,
		Registry:  h.registry,
		Publisher: h.publisher,
		Database:  identity.NewDeviceDatabase(),
		Notify: func(event model.DeviceEvent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.states = append(h.states, event.State)
			h.events = append(h.events, event.EventType)
		},
	}
	h.worker = NewWorker(rec, fastConfig(), deps, zap.NewNop())
	return h
}

func (h *harness) seenStates() []model.HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.HandshakeState(nil), h.states...)
}

func (h *harness) seenEvents() []model.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.EventType(nil), h.events...)
}

func TestWorker_SilentDeviceTimesOut(t *testing.T) {
	h := newHarness(t, &fakeDevice{})

	start := time.Now()
	err := h.worker.Run(context.Background())
	require.ErrorIs(t, err, ErrHeartbeatTimeout)
	assert.GreaterOrEqual(t, time.Since(start), fastConfig().HeartbeatTimeout)

	rec, ok := h.registry.Get("/dev/ttyACM0")
	require.True(t, ok)
	assert.Equal(t, model.StateTimedOut, rec.State)
	assert.Equal(t, model.ReasonNotCompatible, rec.Reason)
	assert.Nil(t, rec.Identity)
	assert.False(t, rec.MavlinkValid)
	assert.False(t, rec.Running)

	// Solicitations were repeated on the interval, starting immediately.
	assert.GreaterOrEqual(t, h.device.heartbeatReqs, 3)
	assert.Zero(t, h.device.versionReqs)
	assert.True(t, h.device.closed)

	assert.Empty(t, h.publisher.topic(model.TopicLinkerInfo))
	assert.Empty(t, h.publisher.topic(model.TopicMavrouterActions))
	assert.Contains(t, h.seenEvents(), model.EventDeviceTimedOut)
}

func TestWorker_IdentifiesExactlyOnce(t *testing.T) {
	device := &fakeDevice{
		heartbeats: true,
		versions:   2,
		version: mavlink.AutopilotVersion{
			VendorID:     0x2DAE,
			ProductID:    0x1016,
			BoardVersion: 0x00320000,
			UID:          0x0807060504030201,
		},
	}
	h := newHarness(t, device)

	require.NoError(t, h.worker.Run(context.Background()))

	rec, _ := h.registry.Get("/dev/ttyACM0")
	assert.Equal(t, model.StateIdentified, rec.State)
	require.NotNil(t, rec.Identity)
	assert.Equal(t, "CubePilot", rec.Identity.Manufacturer)
	assert.Equal(t, "Cube Orange", rec.Identity.ProductName)
	assert.True(t, rec.MavlinkValid)
	assert.False(t, rec.HeartbeatSeenAt.IsZero())
	assert.True(t, device.closed)

	infos := h.publisher.topic(model.TopicLinkerInfo)
	require.Len(t, infos, 1)
	var published model.DeviceIdentity
	require.NoError(t, json.Unmarshal(infos[0], &published))
	assert.Equal(t, "0102030405060708", published.UID)

	actions := h.publisher.topic(model.TopicMavrouterActions)
	require.Len(t, actions, 1)
	assert.JSONEq(t, `{"dev_path":"/dev/ttyACM0","enable":true}`, string(actions[0]))

	assert.Equal(t, 1, device.versionReqs)
	cmd := device.lastVersionReq
	require.NotNil(t, cmd)
	assert.Equal(t, mavlink.MsgIDCommandLong, cmd.MsgID)

	assert.Equal(t, []model.HandshakeState{
		model.StateAwaitingHeartbeat,
		model.StateAwaitingVersion,
		model.StateIdentified,
	}, h.seenStates())
}

func TestWorker_VersionTimeout(t *testing.T) {
	h := newHarness(t, &fakeDevice{heartbeats: true})

	err := h.worker.Run(context.Background())
	require.ErrorIs(t, err, ErrVersionTimeout)

	rec, _ := h.registry.Get("/dev/ttyACM0")
	assert.Equal(t, model.StateTimedOut, rec.State)
	assert.Equal(t, model.ReasonVersionTimeout, rec.Reason)
	assert.True(t, rec.MavlinkValid)
	assert.Nil(t, rec.Identity)

	assert.Contains(t, h.seenStates(), model.StateAwaitingVersion)
	assert.Empty(t, h.publisher.topic(model.TopicLinkerInfo))
	assert.Len(t, h.publisher.topic(model.TopicMavrouterActions), 1)
}

func TestWorker_OpenFailure(t *testing.T) {
	h := newHarness(t, &fakeDevice{openErr: serial.ErrOpenFailed})

	err := h.worker.Run(context.Background())
	require.ErrorIs(t, err, serial.ErrOpenFailed)

	rec, _ := h.registry.Get("/dev/ttyACM0")
	assert.Equal(t, model.StateTimedOut, rec.State)
	assert.Equal(t, model.ReasonOpenFailed, rec.Reason)
	assert.False(t, rec.MavlinkValid)
	assert.False(t, h.device.closed)
	assert.Equal(t, []model.EventType{model.EventDeviceOpenFailed}, h.seenEvents())
}

func TestWorker_Cancellation(t *testing.T) {
	h := newHarness(t, &fakeDevice{})
	h.worker.cfg.HeartbeatTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.device.mu.Lock()
		defer h.device.mu.Unlock()
		return h.device.heartbeatReqs > 0
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	assert.True(t, h.device.closed)
	rec, _ := h.registry.Get("/dev/ttyACM0")
	assert.Equal(t, model.ReasonCancelled, rec.Reason)
	assert.Equal(t, model.StateTimedOut, rec.State)
	assert.NotContains(t, h.seenEvents(), model.EventDeviceTimedOut)
}

func TestWorker_IgnoresBytesForUntrackedID(t *testing.T) {
	h := newHarness(t, &fakeDevice{})

	h.worker.receive(h.record.ID+1, mavlink.PackHeartbeat(0, 1, 1, &mavlink.Heartbeat{}))
	assert.Nil(t, h.worker.heartbeatFrame())

	h.worker.receive(h.record.ID, mavlink.PackHeartbeat(0, 1, 1, &mavlink.Heartbeat{}))
	assert.NotNil(t, h.worker.heartbeatFrame())
}
