package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
)

var ErrNoReading = errors.New("no upstream meter reading")

// SunSpec mirrors quantities of the upstream meter through its actor.
type SunSpec struct {
	root    *actor.RootContext
	meter   func() *actor.PID
	timeout time.Duration
}

// NewSunSpec resolves the upstream meter actor lazily since it is spawned by the master actor.
func NewSunSpec(root *actor.RootContext, meter func() *actor.PID, timeout time.Duration) *SunSpec {
	return &SunSpec{
		root:    root,
		meter:   meter,
		timeout: timeout,
	}
}

func (s *SunSpec) GetState(ctx context.Context, quantity string) (domain.RawState, error) {
	pid := s.meter()
	if pid == nil {
		return nil, ErrNoReading
	}
	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	res, err := s.root.RequestFuture(pid, domain.GetMeterReadingRequest{}, timeout).Result()
	if err != nil {
		return nil, err
	}
	resp, ok := res.(domain.GetMeterReadingResponse)
	if !ok {
		return nil, fmt.Errorf("sunspec: unexpected response %T", res)
	}
	if resp.HasResponseError() {
		return nil, resp.GetResponseError()
	}
	if resp.Reading == nil {
		return nil, ErrNoReading
	}
	value, ok := resp.Reading.Quantity(quantity)
	if !ok {
		return nil, nil
	}
	return value, nil
}

var _ port.ValueProvider = (*SunSpec)(nil)
