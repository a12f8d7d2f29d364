package port

import (
	"context"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
)

// ValueProvider returns the current raw state behind a provider reference.
// A nil state means the value is absent. Errors are treated like an absent value.
type ValueProvider interface {
	GetState(ctx context.Context, reference string) (domain.RawState, error)
}

type ValueProviderFunc func(ctx context.Context, reference string) (domain.RawState, error)

func (f ValueProviderFunc) GetState(ctx context.Context, reference string) (domain.RawState, error) {
	return f(ctx, reference)
}
