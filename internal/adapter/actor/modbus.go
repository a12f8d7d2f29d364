package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/util/actorutil"
	"github.com/berfenger/dtsu666emu/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

const (
	DEFAULT_READING_MAX_AGE = 500 * time.Millisecond
	upstreamReadTimeout     = 2 * time.Second
)

// UpstreamMeterActor owns the connection to a physical SunSpec meter and serves its readings.
// A reading younger than maxAge is served from cache so concurrent bindings share one bus read.
type UpstreamMeterActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	meter    sunspec_modbus.ACMeterModbusReader
	info     *sunspec_modbus.ACMeterInfo
	reading  *sunspec_modbus.ACMeterReading
	readAt   time.Time
	maxAge   time.Duration
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewUpstreamMeterActor(meter sunspec_modbus.ACMeterModbusReader, maxAge time.Duration, logger *zap.Logger) *UpstreamMeterActor {
	act := &UpstreamMeterActor{
		meter:    meter,
		maxAge:   maxAge,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_UPSTREAM_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *UpstreamMeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *UpstreamMeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		if err := state.meter.Open(); err != nil {
			panic(err)
		}
		info, err := state.meter.GetInfo()
		if err != nil {
			panic(err)
		}
		state.info = info
		state.logger.Info("upstream meter connected", zap.String("manufacturer", info.Manufacturer),
			zap.String("model", info.Model), zap.String("serial", info.Serial))
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.meter.Close()
	default:
		state.logger.Debug("meter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *UpstreamMeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_UPSTREAM_METER,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetMeterReadingRequest:
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		if state.reading != nil && time.Since(state.readAt) < state.maxAge {
			ctx.Send(sender, state.response())
			return
		}
		state.logger.Debug("meter@default: GetMeterReadingRequest")
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.meter.GetReading),
			func(r *sunspec_modbus.ACMeterReading) *backgroundTaskResult {
				return &backgroundTaskResult{message: r, replyTo: sender}
			}).Recover(func(err error) backgroundTaskResult {
			logger.Error(err)
			return backgroundTaskResult{
				message: domain.GetMeterReadingResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(upstreamReadTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case *actor.Stopping:
		state.meter.Close()
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *UpstreamMeterActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		var resp domain.GetMeterReadingResponse
		switch m := msg.message.(type) {
		case *sunspec_modbus.ACMeterReading:
			state.reading = m
			state.readAt = time.Now()
			resp = state.response()
		case domain.GetMeterReadingResponse:
			resp = m
		}
		ctx.Send(msg.replyTo, resp)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.meter.Close()
	default:
		state.logger.Debug("meter@WaitingModbus stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *UpstreamMeterActor) response() domain.GetMeterReadingResponse {
	return domain.GetMeterReadingResponse{
		Info:    state.info,
		Reading: state.reading,
	}
}
