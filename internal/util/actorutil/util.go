package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand turns an MQTT switch or number command into a reconfiguration request.
// Unit id and port changes keep the other listener parameter as currently configured.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand, current domain.ServerConfig) (domain.ActorRequest, error) {
	switch cmd.DeviceId {
	case domain.SWITCH_ID_VALIDATION:
		return domain.SetValidationRequest{
			Enabled: cmd.Payload == mqtt.MQTT_PAYLOAD_ON,
		}, nil
	case domain.INPUT_NUMBER_ID_UNIT_ID:
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return nil, err
		}
		if value < 1 || value > 247 || value != float64(int(value)) {
			return nil, fmt.Errorf("unit id out of range: %s", cmd.Payload)
		}
		return domain.ApplyListenerRequest{
			Port:   current.Port,
			UnitId: uint8(value),
		}, nil
	case domain.INPUT_NUMBER_ID_PORT:
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return nil, err
		}
		if value < 1 || value > 65535 || value != float64(int(value)) {
			return nil, fmt.Errorf("port out of range: %s", cmd.Payload)
		}
		return domain.ApplyListenerRequest{
			Port:   int(value),
			UnitId: current.UnitId,
		}, nil
	}
	return nil, nil
}
