package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Homer HomerConfig `yaml:"homer"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
	HTTP  HTTPConfig  `yaml:"http"`
	Watch WatchConfig `yaml:"watch"`
	Log   LogConfig   `yaml:"log"`
}

type HomerConfig struct {
	URL                string        `yaml:"url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	SearchLimit        int           `yaml:"search_limit"`
	SearchTimeout      time.Duration `yaml:"search_timeout"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DetailWindow       time.Duration `yaml:"detail_window"`
	CallIDWindow       time.Duration `yaml:"callid_window"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type HTTPConfig struct {
	Listen        string `yaml:"listen"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Lookback time.Duration `yaml:"lookback"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Defaults returns the configuration used for any key the file leaves out.
func Defaults() *Config {
	return &Config{
		Homer: HomerConfig{
			SearchLimit:        200,
			SearchTimeout:      60 * time.Second,
			TransactionTimeout: 30 * time.Second,
			DetailWindow:       time.Hour,
			CallIDWindow:       30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "homer-callflow",
			TopicPrefix: "homer",
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Watch: WatchConfig{
			Interval: 30 * time.Second,
			Lookback: 15 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Homer.URL, "HOMER_URL")
	set(&c.Homer.Username, "HOMER_USERNAME")
	set(&c.Homer.Password, "HOMER_PASSWORD")
	set(&c.MQTT.Broker, "MQTT_BROKER")
	set(&c.HTTP.AdminPassword, "ADMIN_PASSWORD")
}

func (c *Config) validate() error {
	if c.Homer.URL == "" {
		return fmt.Errorf("homer.url is required")
	}
	if u, err := url.Parse(c.Homer.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("homer.url must be an absolute URL, got %q", c.Homer.URL)
	}
	if c.Homer.Username == "" {
		return fmt.Errorf("homer.username is required")
	}
	if c.Homer.Password == "" {
		return fmt.Errorf("homer.password is required")
	}
	if c.Homer.SearchLimit < 1 {
		return fmt.Errorf("homer.search_limit must be positive, got %d", c.Homer.SearchLimit)
	}
	if c.Homer.DetailWindow <= 0 || c.Homer.CallIDWindow <= 0 {
		return fmt.Errorf("homer.detail_window and homer.callid_window must be positive")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required")
	}
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required")
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be positive, got %s", c.Watch.Interval)
	}
	if c.Watch.Lookback < c.Watch.Interval {
		return fmt.Errorf("watch.lookback (%s) must be at least watch.interval (%s)", c.Watch.Lookback, c.Watch.Interval)
	}
	if (c.HTTP.AdminUser == "") != (c.HTTP.AdminPassword == "") {
		return fmt.Errorf("http.admin_user and http.admin_password must be set together")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}
