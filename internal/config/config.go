// Package config loads the daemon configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/pcf-relay/internal/actuator"
	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/expander"
	"github.com/sweeney/pcf-relay/internal/gpio"
)

// EnvPrefix prefixes every environment override, e.g. PCFRELAY_MQTT_BROKER.
const EnvPrefix = "PCFRELAY"

// DefaultPath is used when -config is not given and the file exists.
const DefaultPath = "/etc/pcf-relay/config.yaml"

// ErrInvalid marks a configuration that must not be started.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Bus        BusConfig        `mapstructure:"bus" yaml:"bus"`
	StateFile  string           `mapstructure:"state_file" yaml:"state_file"`
	IdlePoll   time.Duration    `mapstructure:"idle_poll" yaml:"idle_poll"`
	EnableLine EnableLineConfig `mapstructure:"enable_line" yaml:"enable_line"`
	MQTT       MQTTConfig       `mapstructure:"mqtt" yaml:"mqtt"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Actuators  []ActuatorConfig `mapstructure:"actuators" yaml:"actuators"`
}

type BusConfig struct {
	// Name is the periph bus name; empty selects the first bus.
	Name string `mapstructure:"name" yaml:"name"`
}

// EnableLineConfig describes the optional relay-supply GPIO. Line < 0
// disables it.
type EnableLineConfig struct {
	Chip      string `mapstructure:"chip" yaml:"chip"`
	Line      int    `mapstructure:"line" yaml:"line"`
	ActiveLow bool   `mapstructure:"active_low" yaml:"active_low"`
}

// Enabled reports whether an enable line is configured.
func (e EnableLineConfig) Enabled() bool {
	return e.Line >= 0
}

type MQTTConfig struct {
	// Broker is the broker URL; empty disables MQTT.
	Broker      string        `mapstructure:"broker" yaml:"broker"`
	ClientID    string        `mapstructure:"client_id" yaml:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	Heartbeat   time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
}

type HTTPConfig struct {
	// Addr is the listen address; empty disables the HTTP server.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ActuatorConfig is the file form of actuator.Config.
type ActuatorConfig struct {
	Name         string        `mapstructure:"name" yaml:"name"`
	Pin          string        `mapstructure:"pin" yaml:"pin"`
	Address      string        `mapstructure:"address" yaml:"address"`
	Inverted     bool          `mapstructure:"inverted" yaml:"inverted"`
	SamplePeriod time.Duration `mapstructure:"sample_period" yaml:"sample_period"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.name", "")
	v.SetDefault("state_file", expander.DefaultStatePath)
	v.SetDefault("idle_poll", actuator.DefaultIdlePoll.String())
	v.SetDefault("enable_line.chip", gpio.DefaultChip)
	v.SetDefault("enable_line.line", -1)
	v.SetDefault("enable_line.active_low", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "pcf-relay")
	v.SetDefault("mqtt.topic_prefix", "relay/pcf8574")
	v.SetDefault("mqtt.heartbeat", "15m")
	v.SetDefault("http.addr", ":8080")
}

// Load reads path (skipped when empty) over the defaults, applies
// PCFRELAY_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for i := range cfg.Actuators {
		if cfg.Actuators[i].SamplePeriod == 0 {
			cfg.Actuators[i].SamplePeriod = actuator.DefaultSamplePeriod
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything that can be checked without hardware.
func (c *Config) Validate() error {
	if c.StateFile == "" {
		return fmt.Errorf("%w: state_file is empty", ErrInvalid)
	}
	if c.IdlePoll <= 0 {
		return fmt.Errorf("%w: idle_poll must be positive", ErrInvalid)
	}
	if c.MQTT.Heartbeat < 0 {
		return fmt.Errorf("%w: mqtt.heartbeat must not be negative", ErrInvalid)
	}
	if c.MQTT.Broker != "" && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("%w: mqtt.topic_prefix is empty", ErrInvalid)
	}
	_, err := c.ActuatorConfigs()
	return err
}

// ActuatorConfigs converts and validates the actuator list, including the
// cross-entry checks (unique names, one owner per chip pin).
func (c *Config) ActuatorConfigs() ([]actuator.Config, error) {
	out := make([]actuator.Config, 0, len(c.Actuators))
	names := make(map[string]bool, len(c.Actuators))
	pins := make(map[string]string, len(c.Actuators))

	for i, a := range c.Actuators {
		pin, err := actuator.ParsePin(a.Pin)
		if err != nil {
			return nil, fmt.Errorf("%w: actuators[%d]: %w", ErrInvalid, i, err)
		}
		addr, err := bus.ParseAddress(a.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: actuators[%d]: %w", ErrInvalid, i, err)
		}
		ac := actuator.Config{
			Name:         strings.TrimSpace(a.Name),
			Address:      addr,
			Pin:          pin,
			Inverted:     a.Inverted,
			SamplePeriod: a.SamplePeriod,
		}
		if err := ac.Validate(); err != nil {
			return nil, fmt.Errorf("%w: actuators[%d]: %w", ErrInvalid, i, err)
		}

		if names[ac.Name] {
			return nil, fmt.Errorf("%w: duplicate actuator name %q", ErrInvalid, ac.Name)
		}
		names[ac.Name] = true

		key := bus.FormatAddress(addr) + "/" + ac.PinName()
		if owner, dup := pins[key]; dup {
			return nil, fmt.Errorf("%w: %s and %s share %s", ErrInvalid, owner, ac.Name, key)
		}
		pins[key] = ac.Name

		out = append(out, ac)
	}
	return out, nil
}

// Dump renders the resolved configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
