package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/dtsu666emu/internal/adapter/actor"
	"github.com/berfenger/dtsu666emu/internal/config"
	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/events"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/internal/core/service"
	. "github.com/berfenger/dtsu666emu/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type MQTTActorProvider func() *adactor.MQTTActor

type UpstreamMeterActorProvider func() *adactor.UpstreamMeterActor

// MasterOfPuppetsActor supervises the children and serializes every reconfiguration request.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	controller         *service.ReconfigController
	observer           port.SampleObserver
	currentHealthCheck healthCheckResult
	meterActor         *actor.PID
	mqttActor          *actor.PID
	samplerActor       *actor.PID
	meterActorProvider UpstreamMeterActorProvider
	mqttActorProvider  MQTTActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected       map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

// NewMasterOfPuppetsActor takes nil providers for the optional upstream meter and MQTT children.
func NewMasterOfPuppetsActor(config config.Config, controller *service.ReconfigController, observer port.SampleObserver,
	meterActorProvider UpstreamMeterActorProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:             config,
		behavior:           actor.NewBehavior(),
		stash:              &Stash{},
		logger:             ActorLogger(domain.ACTOR_ID_MASTER, logger),
		controller:         controller,
		observer:           observer,
		meterActorProvider: meterActorProvider,
		mqttActorProvider:  mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start upstream meter child
		if state.meterActorProvider != nil {
			meterActorPID, err := state.startMeterActor(ctx)
			if err != nil {
				panic(err)
			}
			state.meterActor = meterActorPID
		}

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		// start Sampler child
		samplerActorPID, err := state.startSamplerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.samplerActor = samplerActorPID

		// start HA Discovery
		if state.mqttActor != nil && state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.children())
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range state.children() {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(3 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.GetStatusRequest:
		ForRequest(msg).Respond(ctx, domain.GetStatusResponse{Status: state.controller.Status()})
	case domain.ApplyMappingRequest, domain.ApplyListenerRequest, domain.SetValidationRequest:
		req := msg.(domain.ActorRequest)
		ForRequest(req).Respond(ctx, state.apply(req))
		state.configChanged(ctx)
	case adactor.ParsedCommand:
		// route parsedCommand to the reconfiguration handlers
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command, state.controller.Config())
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Any("command", msg.Command), zap.Error(err))
			} else if cmd != nil {
				if resp := state.apply(cmd); resp.HasResponseError() {
					state.logger.Warn("master@default command failed", zap.Error(resp.GetResponseError()))
				}
			}
			// republish so Home Assistant shows the effective configuration
			state.configChanged(ctx)
		}
	case *actor.Terminated:
		// if the upstream meter gives up, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_UPSTREAM_METER) {
			state.logger.Error("master@default upstream meter error")
			panic(errors.New("upstream meter terminated"))
		}
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if _, ok := state.currentHealthCheck.expected[msg.Id]; ok {
				state.currentHealthCheck.expected[msg.Id] = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) apply(req domain.ActorRequest) domain.ActorResponse {
	switch msg := req.(type) {
	case domain.ApplyMappingRequest:
		state.logger.Debug("master@apply ApplyMappingRequest", zap.Int("bindings", len(msg.Bindings)))
		err := state.controller.ApplyMapping(msg.Bindings)
		return domain.ApplyMappingResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
	case domain.ApplyListenerRequest:
		state.logger.Debug("master@apply ApplyListenerRequest", zap.Int("port", msg.Port), zap.Uint8("unit_id", msg.UnitId))
		cfg, err := state.controller.ApplyListener(msg.Port, msg.UnitId)
		return domain.ApplyListenerResponse{ActorResponseMixIn: domain.ErrorResponse(err), Config: cfg}
	case domain.SetValidationRequest:
		state.logger.Debug("master@apply SetValidationRequest", zap.Bool("enabled", msg.Enabled))
		state.controller.SetValidationEnabled(msg.Enabled)
		return domain.SetValidationResponse{}
	}
	return domain.ErrorResponse(fmt.Errorf("unsupported request %T", req))
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_SAMPLER: state.samplerActor,
	}
	if state.meterActor != nil {
		children[domain.ACTOR_ID_UPSTREAM_METER] = state.meterActor
	}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	return children
}

// configChanged republishes the control entities and asks for a fresh status.
func (state *MasterOfPuppetsActor) configChanged(ctx actor.Context) {
	if state.mqttActor != nil {
		for _, ev := range events.ControlsToUpdateEvents(state.controller.Config()) {
			ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
				Event: ev.(domain.SensorUpdateEvent),
			})
		}
	}
	ctx.Send(state.samplerActor, PublishStatusNow{})
}

func (state *MasterOfPuppetsActor) startMeterActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return state.meterActorProvider()
	}, actor.WithSupervisor(supervisor))
	meterActorPID, err := ctx.SpawnNamed(meterProps, domain.ACTOR_ID_UPSTREAM_METER)
	if err != nil {
		return nil, err
	}

	return meterActorPID, nil
}

func (state *MasterOfPuppetsActor) startSamplerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	interval := time.Duration(state.config.Sampler.IntervalMillis) * time.Millisecond
	statusInterval := time.Duration(state.config.MQTT.StatusIntervalSeconds) * time.Second

	samplerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewSamplerActor(state.controller, state.observer, state.mqttActor, interval, statusInterval, state.logger)
	}, actor.WithSupervisor(supervisor))
	samplerActorPID, err := ctx.SpawnNamed(samplerProps, domain.ACTOR_ID_SAMPLER)
	if err != nil {
		return nil, err
	}

	return samplerActorPID, nil
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	regmap := state.controller.RegisterMap()
	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, regmap, state.controller.Config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset(children map[string]*actor.PID) {
	state.expected = make(map[string]bool, len(children))
	for id := range children {
		state.expected[id] = false
	}
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	for _, healthy := range state.expected {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
