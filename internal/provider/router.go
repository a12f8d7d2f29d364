package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
)

const (
	SCHEME_STATIC  = "static"
	SCHEME_MQTT    = "mqtt"
	SCHEME_HA      = "ha"
	SCHEME_SUNSPEC = "sunspec"
)

// Router dispatches "<scheme>:<rest>" references to the provider registered for the scheme.
// References without a known scheme go to the default provider untouched.
type Router struct {
	mu            sync.RWMutex
	providers     map[string]port.ValueProvider
	defaultScheme string
}

func NewRouter(defaultScheme string) *Router {
	return &Router{
		providers:     map[string]port.ValueProvider{},
		defaultScheme: defaultScheme,
	}
}

func (r *Router) Register(scheme string, provider port.ValueProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[scheme] = provider
}

func (r *Router) resolve(reference string) (port.ValueProvider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if scheme, rest, ok := strings.Cut(reference, ":"); ok {
		if p, ok := r.providers[scheme]; ok {
			return p, rest, nil
		}
	}
	if p, ok := r.providers[r.defaultScheme]; ok {
		return p, reference, nil
	}
	return nil, "", fmt.Errorf("no provider for reference %q", reference)
}

func (r *Router) GetState(ctx context.Context, reference string) (domain.RawState, error) {
	p, rest, err := r.resolve(reference)
	if err != nil {
		return nil, err
	}
	return p.GetState(ctx, rest)
}

var _ port.ValueProvider = (*Router)(nil)
