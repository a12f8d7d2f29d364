package provider

import (
	"context"
	"sync"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
)

// Static holds states set by configuration or the admin API. Unknown names are absent.
type Static struct {
	mu     sync.RWMutex
	values map[string]domain.RawState
}

func NewStatic(values map[string]string) *Static {
	s := &Static{values: make(map[string]domain.RawState, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

func (s *Static) Set(name string, raw domain.RawState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = raw
}

func (s *Static) GetState(_ context.Context, name string) (domain.RawState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[name], nil
}

var _ port.ValueProvider = (*Static)(nil)
