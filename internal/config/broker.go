// internal/config/broker.go
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// BrokerBaseConfig is the message bus connection file shared by every process
type BrokerBaseConfig struct {
	ProcessID         string `mapstructure:"process_id"`
	BrokerURL         string `mapstructure:"broker_url"`
	BrokerPort        int    `mapstructure:"broker_port"`
	HeartbeatTopic    string `mapstructure:"heartbeat_topic"`
	ResponseTopic     string `mapstructure:"response_topic"`
	QueryTopic        string `mapstructure:"query_topic"`
	IPQueryTopic      string `mapstructure:"ip_query_topic"`
	ModuleUpdateTopic string `mapstructure:"module_update_topic"`
	HeartbeatInterval int    `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  int    `mapstructure:"heartbeat_timeout"`
}

// URL returns the broker address in nats:// form
func (c *BrokerBaseConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", c.BrokerURL, c.BrokerPort)
}

// TopicList is a list of extra topics
type TopicList struct {
	Topics []string `mapstructure:"topics"`
}

// BrokerCustomTopics lists the topics this process may publish and subscribe to
type BrokerCustomTopics struct {
	Pubs TopicList `mapstructure:"json_added_pubs"`
	Subs TopicList `mapstructure:"json_added_subs"`
}

// CanPublish reports whether topic is on the publish allow-list
func (c *BrokerCustomTopics) CanPublish(topic string) bool {
	for _, t := range c.Pubs.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// LoadBrokerBase reads the base broker file. It is required.
func LoadBrokerBase(path string) (*BrokerBaseConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("broker_url", "localhost")
	v.SetDefault("broker_port", 4222)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read broker config %s: %w", path, err)
	}

	var cfg BrokerBaseConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode broker config: %w", err)
	}
	if cfg.ProcessID == "" {
		return nil, fmt.Errorf("broker config %s: process_id is required", path)
	}
	return &cfg, nil
}

// LoadBrokerCustom reads the custom topics file. A missing or invalid file
// yields empty topic lists and the error for logging.
func LoadBrokerCustom(path string) (*BrokerCustomTopics, error) {
	cfg := &BrokerCustomTopics{}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read custom topics %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return &BrokerCustomTopics{}, fmt.Errorf("unable to decode custom topics: %w", err)
	}
	return cfg, nil
}
