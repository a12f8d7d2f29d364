package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/dtsu666emu/internal/config"
	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/util/actorutil"
	"github.com/berfenger/dtsu666emu/pkg/registermap"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor announces the emulator entities once the MQTT actor is up, then goes idle.
type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	regmap    *registermap.Map
	server    func() domain.ServerConfig
	mqttActor *actor.PID

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, regmap *registermap.Map, server func() domain.ServerConfig,
	mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		regmap:    regmap,
		server:    server,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 5*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		ctx.Send(state.mqttActor, state.discovery())
		state.behavior.Become(state.Done)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
}

func (state *HADiscoveryActor) discovery() domain.PublishDiscoveryRequest {
	device := domain.EmulatorDevice(state.config.MQTT.BaseTopic, state.regmap.Name())

	var sensors []domain.GenericSensor
	sensors = append(sensors, domain.StatusSensors(device)...)
	sensors = append(sensors, domain.FieldSensors(device, state.regmap)...)

	return domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Switches:     domain.ControlSwitches(device),
		InputNumbers: domain.ControlInputNumbers(device, state.server()),
	}
}
