package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	adactor "github.com/berfenger/dtsu666emu/internal/adapter/actor"
	"github.com/berfenger/dtsu666emu/internal/config"
	"github.com/berfenger/dtsu666emu/internal/core/actor"
	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/internal/core/service"
	"github.com/berfenger/dtsu666emu/internal/metrics"
	"github.com/berfenger/dtsu666emu/internal/modbustcp"
	"github.com/berfenger/dtsu666emu/internal/mqtt"
	"github.com/berfenger/dtsu666emu/internal/provider"
	"github.com/berfenger/dtsu666emu/internal/server"
	"github.com/berfenger/dtsu666emu/internal/util/actorutil"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	"github.com/berfenger/dtsu666emu/pkg/sunspec_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// register map
	regmap, err := registermap.Load(cfg.Modbus.RegisterMap)
	if err != nil {
		log.Fatalf("register map: %v", err)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// value providers
	static := provider.NewStatic(cfg.StaticValues)
	router := provider.NewRouter(provider.SCHEME_STATIC)
	router.Register(provider.SCHEME_STATIC, static)
	if cfg.MQTT.Enable {
		router.Register(provider.SCHEME_MQTT, mqttStatesProvider(cfg, logger))
	}
	if cfg.HomeAssistant.URL != "" {
		router.Register(provider.SCHEME_HA, provider.NewHomeAssistant(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token,
			time.Duration(cfg.Sampler.ProviderTimeoutMillis)*time.Millisecond))
	}
	var meterProv actor.UpstreamMeterActorProvider
	if cfg.SunSpec.Enable {
		meterProv, err = upstreamMeterActorProvider(cfg, logger)
		if err != nil {
			log.Fatalf("sunspec meter: %v", err)
		}
		meterPID := pactor.NewPID(as.Address(), fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_UPSTREAM_METER))
		router.Register(provider.SCHEME_SUNSPEC, provider.NewSunSpec(ctx, func() *pactor.PID {
			return meterPID
		}, time.Duration(cfg.Sampler.ProviderTimeoutMillis)*time.Millisecond))
	}

	// register table and sampler
	table := service.NewRegisterTable(regmap, cfg.Modbus.ValidationEnabled)
	sampler := service.NewSampler(table, router, time.Duration(cfg.Sampler.ProviderTimeoutMillis)*time.Millisecond, logger)
	if err := sampler.SetBindings(bindingsFromConfig(cfg.Bindings)); err != nil {
		log.Fatalf("bindings: %v", err)
	}

	// modbus server
	m := metrics.New()
	opts := modbustcp.DefaultOptions()
	opts.MaxClients = cfg.Modbus.MaxClients
	opts.IdleTimeout = time.Duration(cfg.Modbus.IdleTimeoutSeconds) * time.Second
	controller, err := service.NewReconfigController(sampler, table, func() port.ProtocolServer {
		return modbustcp.NewServer(table, opts, logger, m)
	}, domain.ServerConfig{
		Host:              cfg.Modbus.Host,
		Port:              cfg.Modbus.Port,
		UnitId:            uint8(cfg.Modbus.UnitId),
		ValidationEnabled: cfg.Modbus.ValidationEnabled,
	}, logger)
	if err != nil {
		log.Fatalf("modbus server: %v", err)
	}
	if err := controller.Start(); err != nil {
		log.Fatalf("modbus server: %v", err)
	}
	defer controller.Stop()

	var mqttProv actor.MQTTActorProvider
	if cfg.MQTT.Enable {
		mqttProv = mqttActorProvider(cfg, logger)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, controller, m, meterProv, mqttProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, m.Handler(), static)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => DTSU666EMU_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("DTSU666EMU_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("dtsu666emu")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindingsFromConfig(entries map[string]string) []domain.ValueBinding {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	bindings := make([]domain.ValueBinding, 0, len(names))
	for _, name := range names {
		bindings = append(bindings, domain.ValueBinding{Name: name, Reference: entries[name]})
	}
	return bindings
}

func upstreamMeterActorProvider(cfg *config.Config, logger *zap.Logger) (actor.UpstreamMeterActorProvider, error) {

	acMeter, err := sunspec_modbus.CreateACMeterIntSFModbusReader(cfg.SunSpec.Host,
		cfg.SunSpec.Port, uint8(cfg.SunSpec.Address), time.Duration(cfg.SunSpec.TimeoutMillis)*time.Millisecond,
		cfg.SunSpec.IgnoreFronius, logger, nil)

	if err != nil {
		return nil, err
	}

	return func() *adactor.UpstreamMeterActor {
		return adactor.NewUpstreamMeterActor(acMeter, adactor.DEFAULT_READING_MAX_AGE, logger)
	}, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, logger)
	}
}

// mqttStatesProvider connects the client that follows provider state topics.
// Paho reconnects on its own and every reconnect resubscribes the known topics.
func mqttStatesProvider(cfg *config.Config, logger *zap.Logger) *provider.MQTTStates {
	states := provider.NewMQTTStates(logger)
	var client *mqtt.MQTTClient
	client = mqtt.CreateMQTTClient(cfg, mqtt.StatesOptsFromConfig(cfg), func(_ pahomqtt.Client) {
		states.Attach(client)
	}, func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt states connection lost", zap.Error(err))
	})
	client.Connect(func(err error) {
		if err != nil {
			logger.Error("mqtt states connection failed", zap.Error(err))
		}
	}, 10*time.Second)
	return states
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("modbus.host", "")
	viper.SetDefault("modbus.port", 502)
	viper.SetDefault("modbus.unit_id", 1)
	viper.SetDefault("modbus.validation_enabled", true)
	viper.SetDefault("modbus.register_map", registermap.MAP_DTSU666)
	viper.SetDefault("modbus.max_clients", 16)
	viper.SetDefault("modbus.idle_timeout_seconds", 300)
	viper.SetDefault("sampler.interval_millis", 1000)
	viper.SetDefault("sampler.provider_timeout_millis", 500)
	viper.SetDefault("sunspec.enable", false)
	viper.SetDefault("sunspec.port", 502)
	viper.SetDefault("sunspec.address", 200)
	viper.SetDefault("sunspec.timeout_millis", 2000)
	viper.SetDefault("sunspec.ignore_fronius", false)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "dtsu666emu")
	viper.SetDefault("mqtt.ha_discovery_enable", true)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.status_interval_seconds", 10)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.HomeAssistant.Token = "*redacted*"
	slog.Info("Using", "config", cfg)
}
