// internal/handshake/worker.go
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/identity"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/mavlink"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/registry"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/serial"
)

var (
	// ErrHeartbeatTimeout means the device never announced itself
	ErrHeartbeatTimeout = errors.New("no heartbeat received")
	// ErrVersionTimeout means the device answered heartbeats but not the version request
	ErrVersionTimeout = errors.New("no autopilot version received")
)

// PortBus is the part of the serial bus a worker needs
type PortBus interface {
	Open(path string, sink serial.Sink, id int, cfg serial.LineConfig) (serial.Handle, error)
	Write(h serial.Handle, data []byte) (int, error)
	Close(h serial.Handle) error
}

// Publisher sends a payload to a message bus topic
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Notify receives state changes of a device
type Notify func(event model.DeviceEvent)

// Deps are the collaborators shared by every worker
type Deps struct {
	Bus       PortBus
	Registry  *registry.Registry
	Publisher Publisher
	Database  *identity.DeviceDatabase
	Notify    Notify
}

// Worker runs the handshake for one device path
type Worker struct {
	path   string
	id     int
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	parser    *mavlink.Parser
	heartbeat *mavlink.Frame
	version   *mavlink.AutopilotVersion
}

// NewWorker creates the worker for a tracked record
func NewWorker(rec *registry.Record, cfg Config, deps Deps, logger *zap.Logger) *Worker {
	return &Worker{
		path:   rec.Path,
		id:     rec.ID,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		parser: mavlink.NewParser(),
	}
}

// Run drives the handshake to a terminal state. The port is closed and the
// record marked stopped on every return path.
func (w *Worker) Run(ctx context.Context) error {
	defer w.deps.Registry.MarkStopped(w.path)

	w.logger.Info("Starting MAVLink check")

	h, err := w.deps.Bus.Open(w.path, w.receive, w.id, w.cfg.Line)
	if err != nil {
		w.logger.Error("Failed to open serial port", zap.Error(err))
		_ = w.deps.Registry.MarkInvalid(w.path)
		w.finish(model.StateTimedOut, model.ReasonOpenFailed)
		return fmt.Errorf("failed to open %s: %w", w.path, err)
	}
	defer func() {
		if err := w.deps.Bus.Close(h); err != nil {
			w.logger.Warn("Failed to close serial port", zap.Error(err))
		}
	}()
	_ = w.deps.Registry.SetPort(w.path, h)

	w.transition(model.StateAwaitingHeartbeat, "")
	if err := w.awaitHeartbeat(ctx, h); err != nil {
		return w.fail(ctx, err)
	}

	w.transition(model.StateAwaitingVersion, "")
	if err := w.awaitVersion(ctx); err != nil {
		return w.fail(ctx, err)
	}
	return nil
}

// receive is the bus sink. It runs on the dispatcher goroutine.
func (w *Worker) receive(id int, data []byte) {
	if rec, ok := w.deps.Registry.Lookup(id); !ok || rec.Path != w.path {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range data {
		frame, ok := w.parser.Parse(b)
		if !ok {
			continue
		}
		switch frame.MsgID {
		case mavlink.MsgIDHeartbeat:
			if w.heartbeat == nil {
				w.heartbeat = frame
			}
		case mavlink.MsgIDAutopilotVersion:
			if w.version != nil {
				continue
			}
			v, err := mavlink.DecodeAutopilotVersion(frame)
			if err != nil {
				w.logger.Debug("Dropping malformed autopilot version", zap.Error(err))
				continue
			}
			w.version = v
		}
	}
}

func (w *Worker) awaitHeartbeat(ctx context.Context, h serial.Handle) error {
	start := time.Now()
	var lastRequest time.Time

	for {
		if frame := w.heartbeatFrame(); frame != nil {
			return w.onHeartbeat(h, frame)
		}

		if lastRequest.IsZero() || time.Since(lastRequest) >= w.cfg.HeartbeatInterval {
			if _, err := w.deps.Bus.Write(h, mavlink.PackHeartbeatRequest()); err != nil {
				w.logger.Debug("Failed to send heartbeat request", zap.Error(err))
			}
			lastRequest = time.Now()
		}

		if time.Since(start) >= w.cfg.HeartbeatTimeout {
			return ErrHeartbeatTimeout
		}
		if err := sleep(ctx, w.cfg.HeartbeatPoll); err != nil {
			return err
		}
	}
}

func (w *Worker) onHeartbeat(h serial.Handle, frame *mavlink.Frame) error {
	_ = w.deps.Registry.MarkHeartbeat(w.path, time.Now())
	w.logger.Info("MAVLink heartbeat received",
		zap.Uint8("system_id", frame.SysID),
		zap.Uint8("component_id", frame.CompID),
		zap.Int("mavlink_version", frame.Version),
	)

	request := mavlink.PackVersionRequest(w.cfg.TargetSystem, w.cfg.TargetComponent)
	if _, err := w.deps.Bus.Write(h, request); err != nil {
		w.logger.Warn("Failed to send autopilot version request", zap.Error(err))
	}

	w.publishJSON(model.TopicMavrouterActions, model.DeviceState{DevPath: w.path, Enable: true})
	return nil
}

func (w *Worker) awaitVersion(ctx context.Context) error {
	start := time.Now()

	for {
		if v := w.versionInfo(); v != nil {
			ident := w.deps.Database.Resolve(v)
			if err := w.deps.Registry.SetIdentity(w.path, ident); err != nil {
				return err
			}

			w.logger.Info("Device identified",
				zap.String("manufacturer", ident.Manufacturer),
				zap.String("product_name", ident.ProductName),
				zap.String("vendor_id", fmt.Sprintf("0x%04X", ident.VendorID)),
				zap.String("product_id", fmt.Sprintf("0x%04X", ident.ProductID)),
				zap.String("uid", ident.UID),
			)
			w.publishJSON(model.TopicLinkerInfo, ident)
			w.emit(model.EventDeviceIdentified, model.StateIdentified, ident)
			return nil
		}

		if time.Since(start) >= w.cfg.VersionTimeout {
			return ErrVersionTimeout
		}
		if err := sleep(ctx, w.cfg.VersionPoll); err != nil {
			return err
		}
	}
}

func (w *Worker) fail(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrHeartbeatTimeout):
		w.logger.Info("Device is not MAVLink compatible", zap.Duration("timeout", w.cfg.HeartbeatTimeout))
		w.finish(model.StateTimedOut, model.ReasonNotCompatible)
	case errors.Is(err, ErrVersionTimeout):
		w.logger.Warn("Timed out collecting device information", zap.Duration("timeout", w.cfg.VersionTimeout))
		w.finish(model.StateTimedOut, model.ReasonVersionTimeout)
	case ctx.Err() != nil:
		w.logger.Debug("MAVLink check cancelled")
		w.finish(model.StateTimedOut, model.ReasonCancelled)
	default:
		w.logger.Error("MAVLink check failed", zap.Error(err))
	}
	return err
}

func (w *Worker) transition(state model.HandshakeState, reason string) {
	if err := w.deps.Registry.SetState(w.path, state, reason); err != nil {
		w.logger.Debug("Failed to record state", zap.String("state", string(state)), zap.Error(err))
		return
	}
	w.emit(model.EventStateChange, state, nil)
}

// finish records a terminal state. Cancellation is not reported, the caller
// that cancelled announces the removal itself.
func (w *Worker) finish(state model.HandshakeState, reason string) {
	if err := w.deps.Registry.SetState(w.path, state, reason); err != nil {
		return
	}

	eventType := model.EventDeviceTimedOut
	switch reason {
	case model.ReasonCancelled:
		return
	case model.ReasonOpenFailed:
		eventType = model.EventDeviceOpenFailed
	}
	w.emit(eventType, state, map[string]string{"reason": reason})
}

func (w *Worker) emit(eventType model.EventType, state model.HandshakeState, data interface{}) {
	if w.deps.Notify == nil {
		return
	}
	w.deps.Notify(model.NewDeviceEvent(eventType, w.path, w.id, state, data))
}

func (w *Worker) publishJSON(topic string, v interface{}) {
	if w.deps.Publisher == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		w.logger.Error("Failed to encode payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := w.deps.Publisher.Publish(topic, payload); err != nil {
		w.logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
	}
}

func (w *Worker) heartbeatFrame() *mavlink.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heartbeat
}

func (w *Worker) versionInfo() *mavlink.AutopilotVersion {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
