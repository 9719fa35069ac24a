// Package config loads the SmartRoom service configuration from a YAML
// file, with ${VAR} expansion and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Andria35/SmartRoom/internal/airquality"
	"github.com/Andria35/SmartRoom/internal/sensorsource"
	"github.com/Andria35/SmartRoom/pkg/broker"
)

// EnvConfigPath names the variable holding an explicit config path.
const EnvConfigPath = "SMARTROOM_CONFIG"

// DefaultSearchPaths lists where FindConfig looks, in order.
func DefaultSearchPaths() []string {
	return []string{"config.yaml", "/etc/smartroom/config.yaml"}
}

// FindConfig returns explicit if set, else $SMARTROOM_CONFIG, else the
// first existing default path. An empty result with nil error means no
// file was found and defaults apply.
func FindConfig(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvConfigPath)
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds the configuration of every SmartRoom service.
type Config struct {
	Broker     broker.Config    `yaml:"broker"`
	Publisher  PublisherConfig  `yaml:"publisher"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Log        LogConfig        `yaml:"log"`
}

type PublisherConfig struct {
	HTTPAddr string              `yaml:"http_addr"`
	GRPCAddr string              `yaml:"grpc_addr"`
	Interval time.Duration       `yaml:"interval"`
	Sensors  sensorsource.Config `yaml:"sensors"`
	// AutoStart begins publishing as soon as the service is up.
	AutoStart bool `yaml:"auto_start"`
}

type SubscriberConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	DedupTTL       time.Duration `yaml:"dedup_ttl"`
	Influx         InfluxConfig  `yaml:"influx"`
}

type InfluxConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Enabled reports whether history storage is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

type GatewayConfig struct {
	HTTPAddr        string                   `yaml:"http_addr"`
	SubscriberURL   string                   `yaml:"subscriber_url"`
	UpstreamTimeout time.Duration            `yaml:"upstream_timeout"`
	BreakerFailures int                      `yaml:"breaker_failures"`
	BreakerOpen     time.Duration            `yaml:"breaker_open"`
	AirQuality      airquality.FetcherConfig `yaml:"airquality"`
	RefreshInterval time.Duration            `yaml:"refresh_interval"`
	PrefsPath       string                   `yaml:"prefs_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := preset()
	c.applyDefaults()
	return c
}

// preset holds the defaults for fields where zero is a meaningful
// setting. They are filled in before the file is decoded so an explicit
// zero in the file survives.
func preset() *Config {
	c := &Config{}
	c.Publisher.Sensors = sensorsource.DefaultConfig()
	c.Subscriber.DedupTTL = time.Second
	c.Gateway.AirQuality.MaxRetries = airquality.DefaultMaxRetries
	return c
}

// Load reads path, expands ${VAR} references, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := preset()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Broker = c.Broker.WithDefaults()

	if c.Publisher.HTTPAddr == "" {
		c.Publisher.HTTPAddr = ":8081"
	}
	if c.Publisher.GRPCAddr == "" {
		c.Publisher.GRPCAddr = ":9081"
	}
	if c.Publisher.Interval <= 0 {
		c.Publisher.Interval = 2 * time.Second
	}

	if c.Subscriber.HTTPAddr == "" {
		c.Subscriber.HTTPAddr = ":8082"
	}
	if c.Subscriber.GRPCAddr == "" {
		c.Subscriber.GRPCAddr = ":9082"
	}
	if c.Subscriber.ClientIDPrefix == "" {
		c.Subscriber.ClientIDPrefix = "smartroom-subscriber"
	}
	if c.Subscriber.Influx.Org == "" {
		c.Subscriber.Influx.Org = "smartroom"
	}
	if c.Subscriber.Influx.Bucket == "" {
		c.Subscriber.Influx.Bucket = "telemetry"
	}
	if c.Subscriber.Influx.BatchSize <= 0 {
		c.Subscriber.Influx.BatchSize = 10
	}
	if c.Subscriber.Influx.FlushInterval <= 0 {
		c.Subscriber.Influx.FlushInterval = time.Second
	}

	if c.Gateway.HTTPAddr == "" {
		c.Gateway.HTTPAddr = ":8080"
	}
	if c.Gateway.SubscriberURL == "" {
		c.Gateway.SubscriberURL = "http://localhost:8082"
	}
	if c.Gateway.UpstreamTimeout <= 0 {
		c.Gateway.UpstreamTimeout = 3 * time.Second
	}
	if c.Gateway.BreakerFailures <= 0 {
		c.Gateway.BreakerFailures = 3
	}
	if c.Gateway.BreakerOpen <= 0 {
		c.Gateway.BreakerOpen = 15 * time.Second
	}
	if c.Gateway.AirQuality.URL == "" {
		c.Gateway.AirQuality.URL = airquality.DefaultURL
	}
	if c.Gateway.RefreshInterval == 0 {
		c.Gateway.RefreshInterval = 15 * time.Minute
	}
	if c.Gateway.PrefsPath == "" {
		c.Gateway.PrefsPath = "accessibility_prefs.yaml"
	}

	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// applyEnv lets container deployments override the file.
func (c *Config) applyEnv() {
	c.Broker.Host = envStr("MQTT_HOST", c.Broker.Host)
	c.Broker.Port = envInt("MQTT_PORT", c.Broker.Port)
	c.Broker.User = envStr("MQTT_USER", c.Broker.User)
	c.Broker.Password = envStr("MQTT_PASSWORD", c.Broker.Password)
	c.Broker.Topic = envStr("MQTT_TOPIC", c.Broker.Topic)

	c.Publisher.Interval = envDuration("PUBLISH_INTERVAL", c.Publisher.Interval)

	c.Subscriber.Influx.URL = envStr("INFLUX_URL", c.Subscriber.Influx.URL)
	c.Subscriber.Influx.Token = envStr("INFLUX_TOKEN", c.Subscriber.Influx.Token)
	c.Subscriber.Influx.Org = envStr("INFLUX_ORG", c.Subscriber.Influx.Org)
	c.Subscriber.Influx.Bucket = envStr("INFLUX_BUCKET", c.Subscriber.Influx.Bucket)

	c.Gateway.SubscriberURL = envStr("SUBSCRIBER_URL", c.Gateway.SubscriberURL)
	c.Gateway.AirQuality.URL = envStr("AIRQUALITY_URL", c.Gateway.AirQuality.URL)

	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("LOG_FORMAT", c.Log.Format)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Broker.Host == "" {
		errs = append(errs, errors.New("broker.host is required"))
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker.port %d out of range", c.Broker.Port))
	}
	if c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker.qos %d must be 0, 1 or 2", c.Broker.QoS))
	}
	if strings.ContainsAny(c.Broker.Topic, "+#") {
		errs = append(errs, fmt.Errorf("broker.topic %q must not contain wildcards", c.Broker.Topic))
	}
	if c.Publisher.Interval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("publisher.interval %v is below 100ms", c.Publisher.Interval))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}
