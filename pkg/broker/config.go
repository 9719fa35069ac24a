package broker

import (
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config describes a single broker connection.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Quiesce        time.Duration `yaml:"quiesce"`
}

const (
	DefaultPort     = 1883
	DefaultTopic    = "smartroom/test"
	DefaultPrefix   = "smartroom-android"
	DefaultQuiesce  = 250 * time.Millisecond
	DefaultDeadline = 10 * time.Second
)

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = DefaultPrefix
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultDeadline
	}
	if c.Quiesce <= 0 {
		c.Quiesce = DefaultQuiesce
	}
	return c
}

// Address returns the tcp:// URL of the broker.
func (c Config) Address() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// ClientID derives a process-unique identifier from the prefix and the
// current time in milliseconds.
func ClientID(prefix string, now time.Time) string {
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// NewClientOptions builds paho options for a session. Reconnection is left
// to the caller: both auto-reconnect and connect-retry are disabled.
func NewClientOptions(cfg Config, clientID string, onLost func(error)) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Address())
	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOrderMatters(false)
	if onLost != nil {
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
	}
	return opts
}
