// internal/broker/client.go
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/config"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/supervisor"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

var (
	// ErrNotConnected is returned while the broker connection is down
	ErrNotConnected = errors.New("broker not connected")
	// ErrUnauthorizedTopic is returned for topics missing from the publish list
	ErrUnauthorizedTopic = errors.New("unauthorized topic")
)

const activityInterval = 100 * time.Millisecond

// Options tune the connection
type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// DefaultOptions reconnects forever
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  time.Second,
		MaxReconnects:  -1,
	}
}

// Client is the message bus connection of the process. It runs as a supervised task.
type Client struct {
	base       *config.BrokerBaseConfig
	customPath string
	opts       Options
	logger     *utils.BusLogger

	mu         sync.RWMutex
	custom     *config.BrokerCustomTopics
	conn       *nats.Conn
	customSubs []*nats.Subscription
}

// NewClient creates a client for base. Custom topics are read from customPath now
// and again after every target-specific module update.
func NewClient(base *config.BrokerBaseConfig, customPath string, opts Options, logger *zap.Logger) *Client {
	c := &Client{
		base:       base,
		customPath: customPath,
		opts:       opts,
		logger:     utils.NewBusLogger(logger, base.ProcessID),
	}

	custom, err := config.LoadBrokerCustom(customPath)
	if err != nil {
		c.logger.Warn("Custom topics unavailable", zap.Error(err))
	}
	c.custom = custom
	return c
}

// Name implements supervisor.Task
func (c *Client) Name() string {
	return "broker"
}

// Run connects, subscribes and keeps target fresh until ctx is done or the
// connection closes.
func (c *Client) Run(ctx context.Context, target *supervisor.Target) error {
	closed := make(chan struct{})
	var closeOnce sync.Once

	nc, err := nats.Connect(c.base.URL(),
		nats.Name(c.base.ProcessID),
		nats.Timeout(c.opts.ConnectTimeout),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.MaxReconnects(c.opts.MaxReconnects),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Warn("Broker error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("Broker disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Broker reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			closeOnce.Do(func() { close(closed) })
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", c.base.URL(), err)
	}

	if err := c.subscribe(nc); err != nil {
		nc.Close()
		return err
	}

	c.mu.Lock()
	c.conn = nc
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.customSubs = nil
		c.mu.Unlock()
		nc.Close()
	}()

	c.logger.Info("Connected to broker", zap.String("url", nc.ConnectedUrl()))
	target.SetLive(true)
	target.Touch()

	ticker := time.NewTicker(activityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			target.SetLive(false)
			return ErrNotConnected
		case <-ticker.C:
			if nc.IsConnected() {
				target.Touch()
			}
		}
	}
}

// Connected reports whether messages can currently be published
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// CustomTopics returns the current custom topic lists
func (c *Client) CustomTopics() config.BrokerCustomTopics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := config.BrokerCustomTopics{}
	out.Pubs.Topics = append(out.Pubs.Topics, c.custom.Pubs.Topics...)
	out.Subs.Topics = append(out.Subs.Topics, c.custom.Subs.Topics...)
	return out
}

// Publish sends payload to topic. Only custom publish topics are allowed and
// nothing is queued while disconnected.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	allowed := c.custom.CanPublish(topic)
	nc := c.conn
	c.mu.RUnlock()

	if !allowed {
		c.logger.Warn("Attempted to publish to unauthorized topic", zap.String("topic", topic))
		return fmt.Errorf("%w: %s", ErrUnauthorizedTopic, topic)
	}
	if nc == nil || !nc.IsConnected() {
		c.logger.Warn("Broker not connected, dropping message", zap.String("topic", topic))
		return ErrNotConnected
	}

	err := nc.Publish(topic, payload)
	c.logger.LogPublish(topic, len(payload), err)
	return err
}

func (c *Client) subscribe(nc *nats.Conn) error {
	onHeartbeat := func(msg *nats.Msg) { c.onHeartbeat(nc, msg) }
	if _, err := nc.Subscribe(c.base.HeartbeatTopic, onHeartbeat); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.base.HeartbeatTopic, err)
	}
	onUpdate := func(msg *nats.Msg) { c.onModuleUpdate(nc, msg) }
	if _, err := nc.Subscribe(c.base.ModuleUpdateTopic, onUpdate); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.base.ModuleUpdateTopic, err)
	}
	return c.subscribeCustom(nc)
}

// subscribeCustom replaces the subscriptions to custom topics
func (c *Client) subscribeCustom(nc *nats.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.customSubs {
		_ = sub.Unsubscribe()
	}
	c.customSubs = nil

	for _, topic := range c.custom.Subs.Topics {
		sub, err := nc.Subscribe(topic, func(msg *nats.Msg) {
			c.logger.LogReceive(msg.Subject, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.customSubs = append(c.customSubs, sub)
	}
	return nil
}

type heartbeatResponse struct {
	ProcessID string `json:"process_id"`
	Response  string `json:"response"`
}

func (c *Client) onHeartbeat(nc *nats.Conn, msg *nats.Msg) {
	payload, err := json.Marshal(heartbeatResponse{ProcessID: c.base.ProcessID, Response: "alive"})
	if err != nil {
		return
	}

	if c.base.ResponseTopic != "" {
		err := nc.Publish(c.base.ResponseTopic, payload)
		c.logger.LogPublish(c.base.ResponseTopic, len(payload), err)
	}
	if msg.Reply != "" {
		_ = msg.Respond(payload)
	}
}
