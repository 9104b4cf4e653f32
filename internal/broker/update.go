// internal/broker/update.go
package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/config"
)

// UpdateType selects what a module update changes
type UpdateType int

const (
	UpdateOS UpdateType = iota
	UpdateGeneric
	UpdateTargetSpecific
)

func (t UpdateType) String() string {
	switch t {
	case UpdateOS:
		return "os"
	case UpdateGeneric:
		return "generic"
	case UpdateTargetSpecific:
		return "target_specific"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ModuleUpdate is the message published on the module update topic.
// UpdateValue is a JSON document, usually carried as a string.
type ModuleUpdate struct {
	ProcessID   string          `json:"process_id"`
	UpdateType  UpdateType      `json:"update_type"`
	UpdateValue json.RawMessage `json:"update_value"`
}

// Value returns the update document, unquoting a string value
func (u *ModuleUpdate) Value() []byte {
	raw := bytes.TrimSpace(u.UpdateValue)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

func (c *Client) onModuleUpdate(nc *nats.Conn, msg *nats.Msg) {
	var update ModuleUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		c.logger.Warn("Invalid module update", zap.Error(err))
		return
	}
	if update.ProcessID != c.base.ProcessID {
		return
	}

	log := c.logger.With(zap.Stringer("update_type", update.UpdateType))
	switch update.UpdateType {
	case UpdateOS:
		log.Info("Received OS update")
	case UpdateGeneric:
		log.Info("Received generic config update")
	case UpdateTargetSpecific:
		if err := c.applyTargetUpdate(update.Value()); err != nil {
			log.Error("Failed to apply target-specific update", zap.Error(err))
			return
		}
		if err := c.subscribeCustom(nc); err != nil {
			log.Error("Failed to resubscribe custom topics", zap.Error(err))
			return
		}
		log.Info("Custom topics updated", zap.String("file", c.customPath))
	default:
		log.Warn("Unknown update type")
	}
}

// applyTargetUpdate replaces the custom topics file, keeping the previous one as .bak
func (c *Client) applyTargetUpdate(value []byte) error {
	if !json.Valid(value) {
		return errors.New("update value is not valid JSON")
	}

	backup := c.customPath + ".bak"
	if err := os.Rename(c.customPath, backup); err != nil {
		return fmt.Errorf("failed to back up %s: %w", c.customPath, err)
	}
	if err := os.WriteFile(c.customPath, value, 0o644); err != nil {
		if rerr := os.Rename(backup, c.customPath); rerr != nil {
			c.logger.Error("Failed to restore custom topics backup", zap.Error(rerr))
		}
		return fmt.Errorf("failed to write %s: %w", c.customPath, err)
	}

	custom, err := config.LoadBrokerCustom(c.customPath)
	if err != nil {
		c.logger.Warn("Reloaded custom topics with errors", zap.Error(err))
	}

	c.mu.Lock()
	c.custom = custom
	c.mu.Unlock()
	return nil
}
