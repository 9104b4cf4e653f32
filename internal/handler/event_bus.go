// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
)

// EventBus decouples device event producers from slow consumers
type EventBus struct {
	handlers []func(model.DeviceEvent)
	events   chan model.DeviceEvent
	done     chan struct{}
	stopOnce sync.Once
	mutex    sync.RWMutex
	logger   *zap.Logger
}

// NewEventBus creates an event bus holding up to buffer pending events
func NewEventBus(buffer int, logger *zap.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 1000
	}
	return &EventBus{
		events: make(chan model.DeviceEvent, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start distributes events until Stop. Run it on its own goroutine.
func (eb *EventBus) Start() {
	for {
		select {
		case <-eb.done:
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Stop ends distribution. Later events are dropped.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.done) })
}

// Publish publishes an event without blocking
func (eb *EventBus) Publish(event model.DeviceEvent) {
	select {
	case <-eb.done:
		return
	default:
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("dev_path", event.DevPath),
		)
	}
}

// Subscribe registers fn for every event
func (eb *EventBus) Subscribe(fn func(model.DeviceEvent)) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	eb.handlers = append(eb.handlers, fn)
}

func (eb *EventBus) distributeEvent(event model.DeviceEvent) {
	eb.mutex.RLock()
	handlers := eb.handlers
	eb.mutex.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}
