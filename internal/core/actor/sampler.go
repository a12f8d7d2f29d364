package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/events"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/internal/core/service"
	. "github.com/berfenger/dtsu666emu/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// SamplerActor drives the sampling loop and refreshes the published status.
type SamplerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	controller     *service.ReconfigController
	observer       port.SampleObserver
	mqttActor      *actor.PID
	interval       time.Duration
	statusInterval time.Duration
	lastStatus     time.Time
	lastCycle      time.Time
	cycleStart     time.Time

	logger *zap.Logger
}

type samplerTick struct {
}

// PublishStatusNow asks the sampler to publish the status without waiting for the status interval.
type PublishStatusNow struct {
}

func NewSamplerActor(controller *service.ReconfigController, observer port.SampleObserver, mqttActor *actor.PID,
	interval time.Duration, statusInterval time.Duration, logger *zap.Logger) *SamplerActor {
	act := &SamplerActor{
		controller:     controller,
		observer:       observer,
		mqttActor:      mqttActor,
		interval:       interval,
		statusInterval: statusInterval,
		behavior:       actor.NewBehavior(),
		stash:          &Stash{},
		logger:         ActorLogger(domain.ACTOR_ID_SAMPLER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *SamplerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SamplerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("sampler@starting started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		ctx.Send(ctx.Self(), samplerTick{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("sampler@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *SamplerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("sampler@default: ActorHealthRequest")
		ctx.Respond(state.health("idle"))
	case samplerTick:
		state.logger.Debug("sampler@default tick")
		state.cycleStart = time.Now()
		sampler := state.controller.Sampler()
		NewContextTask(ctx, func(c context.Context) *domain.SampleCycleDone {
			return &domain.SampleCycleDone{Snapshot: sampler.SampleOnce(c)}
		}).WithTimeout(state.interval).Recover(func(err error) domain.SampleCycleDone {
			state.logger.Warn("sampler@default sampling cycle overran", zap.Error(err))
			return domain.SampleCycleDone{}
		}).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.SamplingReceive)
	case PublishStatusNow:
		state.publishStatus(ctx)
	default:
		state.logger.Debug("sampler@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *SamplerActor) SamplingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.SampleCycleDone:
		elapsed := time.Since(state.cycleStart)
		if msg.Snapshot != nil {
			state.lastCycle = time.Now()
			if state.observer != nil {
				state.observer.ObserveSample(msg.Snapshot, elapsed)
			}
			state.logger.Debug("sampler@sampling cycle done", zap.Bool("valid", msg.Snapshot.Valid),
				zap.Int("values", len(msg.Snapshot.Values)), zap.Duration("elapsed", elapsed))
		}
		if time.Since(state.lastStatus) >= state.statusInterval {
			state.publishStatus(ctx)
		}

		// schedule next tick, keeping the cycle period when sampling was slow
		state.scheduler.RequestOnce(max(state.interval-elapsed, 0), ctx.Self(), samplerTick{})
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health("sampling"))
	default:
		state.logger.Debug("sampler@sampling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// health reports unhealthy when no cycle completed for three periods.
func (state *SamplerActor) health(s string) domain.ActorHealthResponse {
	healthy := state.lastCycle.IsZero() || time.Since(state.lastCycle) < 3*state.interval+time.Second
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_SAMPLER,
		Healthy: healthy,
		State:   s,
	}
}

func (state *SamplerActor) publishStatus(ctx actor.Context) {
	state.lastStatus = time.Now()
	if state.mqttActor == nil {
		return
	}
	for _, ev := range events.StatusToUpdateEvents(state.controller.Status()) {
		ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{
			Event: ev.(domain.SensorUpdateEvent),
		})
	}
}
