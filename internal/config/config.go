package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel      zapcore.Level
	Modbus        ModbusConfig        `mapstructure:"modbus"`
	Sampler       SamplerConfig       `mapstructure:"sampler"`
	Bindings      map[string]string   `mapstructure:"bindings"`
	StaticValues  map[string]string   `mapstructure:"static_values"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
	SunSpec       SunSpecConfig       `mapstructure:"sunspec"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	Port          uint                `mapstructure:"port"`
	HttpLog       bool                `mapstructure:"http_log"`
}

type ModbusConfig struct {
	Host               string
	Port               int
	UnitId             uint   `mapstructure:"unit_id"`
	ValidationEnabled  bool   `mapstructure:"validation_enabled"`
	RegisterMap        string `mapstructure:"register_map"`
	MaxClients         int    `mapstructure:"max_clients"`
	IdleTimeoutSeconds uint32 `mapstructure:"idle_timeout_seconds"`
}

type SamplerConfig struct {
	IntervalMillis        uint32 `mapstructure:"interval_millis"`
	ProviderTimeoutMillis uint32 `mapstructure:"provider_timeout_millis"`
}

type HomeAssistantConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type SunSpecConfig struct {
	Enable        bool
	Host          string
	Port          uint
	Address       uint   `mapstructure:"address"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
	IgnoreFronius bool   `mapstructure:"ignore_fronius"`
}

type MQTTConfig struct {
	Enable                bool
	Host                  string
	Port                  int
	Username              string
	Password              string
	BaseTopic             string `mapstructure:"base_topic"`
	HADiscoveryEnable     bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic      string `mapstructure:"ha_discovery_topic"`
	StatusIntervalSeconds uint32 `mapstructure:"status_interval_seconds"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks the bounds of every numeric parameter.
func (cfg *Config) Validate() error {
	if cfg.Modbus.Port < 1 || cfg.Modbus.Port > 65535 {
		return errors.New("config param modbus.port should be in 1..65535")
	}
	if cfg.Modbus.UnitId < 1 || cfg.Modbus.UnitId > 247 {
		return errors.New("config param modbus.unit_id should be in 1..247")
	}
	if cfg.Modbus.MaxClients < 1 || cfg.Modbus.MaxClients > 1024 {
		return errors.New("config param modbus.max_clients should be in 1..1024")
	}
	if cfg.Modbus.RegisterMap == "" {
		return errors.New("config param modbus.register_map should not be empty")
	}
	if cfg.Sampler.IntervalMillis < 100 || cfg.Sampler.IntervalMillis > 60000 {
		return errors.New("config param sampler.interval_millis should be in 100..60000")
	}
	if cfg.Sampler.ProviderTimeoutMillis == 0 || cfg.Sampler.ProviderTimeoutMillis >= cfg.Sampler.IntervalMillis {
		return errors.New("config param sampler.provider_timeout_millis should be > 0 and < sampler.interval_millis")
	}
	if cfg.SunSpec.Enable {
		if cfg.SunSpec.Host == "" {
			return errors.New("config param sunspec.host is required when sunspec.enable is set")
		}
		if cfg.SunSpec.Address > 255 {
			return errors.New("config param sunspec.address should be <= 255")
		}
	}
	if cfg.MQTT.Enable {
		if cfg.MQTT.Host == "" {
			return errors.New("config param mqtt.host is required when mqtt.enable is set")
		}
		if cfg.MQTT.StatusIntervalSeconds < 1 {
			return errors.New("config param mqtt.status_interval_seconds should be >= 1")
		}
	}
	return nil
}
