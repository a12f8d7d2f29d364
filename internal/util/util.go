package util

import (
	"github.com/berfenger/dtsu666emu/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Modbus: config.ModbusConfig{
			Host:               "127.0.0.1",
			Port:               0,
			UnitId:             1,
			ValidationEnabled:  true,
			RegisterMap:        "dtsu666",
			MaxClients:         4,
			IdleTimeoutSeconds: 60,
		},
		Sampler: config.SamplerConfig{
			IntervalMillis:        200,
			ProviderTimeoutMillis: 100,
		},
		Bindings: map[string]string{
			"voltage_l1":         "static:voltage",
			"active_power_total": "static:power",
		},
		StaticValues: map[string]string{
			"voltage": "231.4",
			"power":   "-1250",
		},
		SunSpec: config.SunSpecConfig{
			Host:          "-.-.-.-",
			Port:          502,
			Address:       200,
			TimeoutMillis: 1000,
		},
		MQTT: config.MQTTConfig{
			Host:                  "localhost",
			Port:                  1883,
			BaseTopic:             "dtsu666emu",
			HADiscoveryEnable:     true,
			HADiscoveryTopic:      "homeassistant",
			StatusIntervalSeconds: 1,
		},
		Port: 8080,
	}
}
