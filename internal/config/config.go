// Package config loads server settings from defaults, an optional file and
// PRINTSTATION_* environment variables
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (server.addr -> PRINTSTATION_SERVER_ADDR)
const EnvPrefix = "PRINTSTATION"

// Config is the full server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Profiles ProfilesConfig `mapstructure:"profiles"`
	Settings SettingsConfig `mapstructure:"settings"`
	History  HistoryConfig  `mapstructure:"history"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Station  StationConfig  `mapstructure:"station"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type QueueConfig struct {
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	HistoryLimit  int           `mapstructure:"history_limit"`
}

// ProfilesConfig points at a YAML printer catalogue. Empty uses the builtin one.
type ProfilesConfig struct {
	Path string `mapstructure:"path"`
}

type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// HistoryConfig enables the sqlite history when DBPath is set
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// MQTTConfig enables event fan-out when Broker is set
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// ProxyConfig governs POST /proxy/print. AllowedHosts empty means any host.
type ProxyConfig struct {
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	AllowedPorts []int         `mapstructure:"allowed_ports"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
}

// StationConfig runs an embedded print station when Name is set
type StationConfig struct {
	Name       string `mapstructure:"name"`
	Transport  string `mapstructure:"transport"`
	ProfileID  string `mapstructure:"profile_id"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Device     string `mapstructure:"device"`
	Baud       int    `mapstructure:"baud"`
	ProxyURL   string `mapstructure:"proxy_url"`
	OpenDrawer bool   `mapstructure:"open_drawer"`

	RenewInterval time.Duration `mapstructure:"renew_interval"`
}

// Enabled reports whether an embedded station is configured
func (s StationConfig) Enabled() bool {
	return s.Name != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("queue.lease_ttl", 30*time.Second)
	v.SetDefault("queue.sweep_interval", time.Second)
	v.SetDefault("queue.history_limit", 500)
	v.SetDefault("profiles.path", "")
	v.SetDefault("settings.path", "settings.json")
	v.SetDefault("history.db_path", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "print-station")
	v.SetDefault("mqtt.topic_prefix", "print-station")
	v.SetDefault("proxy.dial_timeout", 5*time.Second)
	v.SetDefault("proxy.allowed_ports", []int{9100})
	v.SetDefault("proxy.allowed_hosts", []string{})
	v.SetDefault("station.name", "")
	v.SetDefault("station.transport", "local")
	v.SetDefault("station.profile_id", "")
	v.SetDefault("station.host", "")
	v.SetDefault("station.port", 9100)
	v.SetDefault("station.device", "")
	v.SetDefault("station.baud", 9600)
	v.SetDefault("station.proxy_url", "")
	v.SetDefault("station.open_drawer", false)
	v.SetDefault("station.renew_interval", 10*time.Second)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that defaults cannot fix
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Queue.LeaseTTL <= 0 {
		return fmt.Errorf("queue.lease_ttl must be positive")
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("queue.sweep_interval must be positive")
	}
	if c.Queue.HistoryLimit < 0 {
		return fmt.Errorf("queue.history_limit must not be negative")
	}
	if len(c.Proxy.AllowedPorts) == 0 {
		return fmt.Errorf("proxy.allowed_ports must list at least one port")
	}
	for _, p := range c.Proxy.AllowedPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("proxy.allowed_ports: invalid port %d", p)
		}
	}
	if c.Station.Enabled() && (c.Station.RenewInterval <= 0 || c.Station.RenewInterval >= c.Queue.LeaseTTL) {
		return fmt.Errorf("station.renew_interval must be positive and shorter than queue.lease_ttl")
	}
	return nil
}
