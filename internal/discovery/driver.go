// internal/discovery/driver.go
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/handshake"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/identity"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/registry"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

// ErrDriverStopped is returned by StartMonitoring after Stop
var ErrDriverStopped = errors.New("discovery driver stopped")

// EventListener receives device events
type EventListener func(event model.DeviceEvent)

// DriverDeps are the collaborators of the Driver
type DriverDeps struct {
	Bus       handshake.PortBus
	Registry  *registry.Registry
	Publisher handshake.Publisher
	Database  *identity.DeviceDatabase
	Scanner   *Scanner
}

// Driver starts and stops handshake workers as devices come and go
type Driver struct {
	deps   DriverDeps
	cfg    handshake.Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	runMu   sync.Mutex
	stopped bool

	mu        sync.RWMutex
	listeners []EventListener
}

// NewDriver creates a driver. Workers run until Stop.
func NewDriver(deps DriverDeps, cfg handshake.Config, logger *zap.Logger) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "driver")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddListener registers fn for every device event
func (d *Driver) AddListener(fn EventListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// StartMonitoring begins the MAVLink check of path. Tracked paths are left alone.
func (d *Driver) StartMonitoring(path string) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.stopped {
		return ErrDriverStopped
	}

	rec, err := d.deps.Registry.Insert(path)
	if errors.Is(err, registry.ErrAlreadyTracked) {
		d.logger.Debug("Device already monitored", zap.String("dev_path", path))
		return nil
	}
	if err != nil {
		d.logger.Warn("Cannot monitor device", zap.String("dev_path", path), zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(d.ctx)
	done := make(chan struct{})
	if err := d.deps.Registry.Attach(path, cancel, done); err != nil {
		cancel()
		return err
	}

	deviceLogger := utils.NewDeviceLogger(d.logger, path, rec.ID)
	deps := handshake.Deps{
		Bus:       d.deps.Bus,
		Registry:  d.deps.Registry,
		Publisher: d.deps.Publisher,
		Database:  d.deps.Database,
		Notify:    d.broadcast,
	}
	worker := handshake.NewWorker(rec, d.cfg, deps, deviceLogger.Logger)

	d.broadcast(model.NewDeviceEvent(model.EventDeviceAppeared, path, rec.ID, rec.State, nil))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)
		defer utils.LogPanic(deviceLogger.Logger)
		_ = worker.Run(ctx)
	}()

	d.logger.Info("Started MAVLink check", zap.String("dev_path", path), zap.Int("device_id", rec.ID))
	return nil
}

// StopMonitoring withdraws path from the router, stops its worker and forgets it.
// It reports whether path was tracked.
func (d *Driver) StopMonitoring(path string) bool {
	rec, ok := d.deps.Registry.Get(path)
	if !ok {
		return false
	}

	d.publish(model.TopicMavrouterActions, model.DeviceState{DevPath: path, Enable: false})
	removed := d.deps.Registry.Remove(path)
	if removed {
		d.broadcast(model.NewDeviceEvent(model.EventDeviceVanished, path, rec.ID, rec.State, nil))
		d.logger.Info("Stopped monitoring device", zap.String("dev_path", path), zap.Int("device_id", rec.ID))
	}
	return removed
}

// IsIdentified returns the identity of path once its handshake completed
func (d *Driver) IsIdentified(path string) (*model.DeviceIdentity, bool) {
	rec, ok := d.deps.Registry.Get(path)
	if !ok || rec.State != model.StateIdentified || rec.Identity == nil {
		return nil, false
	}
	ident := *rec.Identity
	return &ident, true
}

// Devices returns the status of every tracked device
func (d *Driver) Devices() []model.DeviceStatus {
	records := d.deps.Registry.Snapshot()
	statuses := make([]model.DeviceStatus, 0, len(records))
	for _, rec := range records {
		statuses = append(statuses, rec.Status())
	}
	return statuses
}

// Device returns the status of path
func (d *Driver) Device(path string) (model.DeviceStatus, bool) {
	rec, ok := d.deps.Registry.Get(path)
	if !ok {
		return model.DeviceStatus{}, false
	}
	return rec.Status(), true
}

// Ports lists the matching devices present with their USB attributes
func (d *Driver) Ports(ctx context.Context) ([]model.PortInfo, error) {
	if d.deps.Scanner == nil {
		return nil, fmt.Errorf("no scanner configured")
	}
	return d.deps.Scanner.Scan(ctx)
}

// ScanExisting starts monitoring every matching device already present
func (d *Driver) ScanExisting(ctx context.Context) (int, error) {
	ports, err := d.Ports(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, port := range ports {
		utils.NewDeviceLogger(d.logger, port.DevPath, 0).LogHotplug(model.EventDeviceAppeared, port)
		if err := d.StartMonitoring(port.DevPath); err != nil {
			continue
		}
		started++
	}

	d.logger.Info("Existing devices scanned", zap.Int("found", len(ports)), zap.Int("started", started))
	return started, nil
}

// HandleHotplug reacts to a watcher notification
func (d *Driver) HandleHotplug(hp Hotplug) {
	switch hp.Type {
	case model.EventDeviceAppeared:
		info := model.PortInfo{DevPath: hp.Path, DevName: hp.Name}
		if d.deps.Scanner != nil {
			info = d.deps.Scanner.Describe(hp.Name)
			info.DevPath = hp.Path
		}
		utils.NewDeviceLogger(d.logger, hp.Path, 0).LogHotplug(hp.Type, info)
		_ = d.StartMonitoring(hp.Path)
	case model.EventDeviceVanished:
		d.logger.Info("Device removed", zap.String("dev_path", hp.Path))
		d.StopMonitoring(hp.Path)
	}
}

// Stop cancels and joins every worker and forgets all devices. It is idempotent.
func (d *Driver) Stop() {
	d.runMu.Lock()
	if d.stopped {
		d.runMu.Unlock()
		return
	}
	d.stopped = true
	d.runMu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.deps.Registry.RemoveAll()
	d.logger.Info("Discovery driver stopped")
}

func (d *Driver) broadcast(event model.DeviceEvent) {
	d.mu.RLock()
	listeners := append([]EventListener(nil), d.listeners...)
	d.mu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

func (d *Driver) publish(topic string, v interface{}) {
	if d.deps.Publisher == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		d.logger.Error("Failed to encode payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := d.deps.Publisher.Publish(topic, payload); err != nil {
		d.logger.Warn("Failed to publish", zap.String("topic", topic), zap.Error(err))
	}
}
