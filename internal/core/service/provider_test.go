package service

import (
	"context"
	"errors"
	"sync"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
)

type fakeProvider struct {
	mu     sync.Mutex
	states map[string]domain.RawState
	gates  map[string]chan struct{}
	calls  map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		states: map[string]domain.RawState{},
		gates:  map[string]chan struct{}{},
		calls:  map[string]int{},
	}
}

func (p *fakeProvider) set(ref string, raw domain.RawState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[ref] = raw
}

// hold makes GetState for ref wait until the returned channel is closed.
func (p *fakeProvider) hold(ref string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.gates[ref] = ch
	return ch
}

func (p *fakeProvider) callCount(ref string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ref]
}

func (p *fakeProvider) GetState(ctx context.Context, ref string) (domain.RawState, error) {
	p.mu.Lock()
	p.calls[ref]++
	gate := p.gates[ref]
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, ok := p.states[ref]
	if !ok {
		return nil, errors.New("no such entity")
	}
	return raw, nil
}

var _ port.ValueProvider = (*fakeProvider)(nil)

type fakeServer struct {
	mu       sync.Mutex
	addr     string
	unitId   uint8
	running  bool
	failBind bool
	conns    int
}

func (s *fakeServer) Start(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBind {
		return errors.New("address already in use")
	}
	s.addr = address
	s.running = true
	return nil
}

func (s *fakeServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *fakeServer) SetUnitId(unitId uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitId = unitId
}

func (s *fakeServer) UnitId() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unitId
}

func (s *fakeServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *fakeServer) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

var _ port.ProtocolServer = (*fakeServer)(nil)
