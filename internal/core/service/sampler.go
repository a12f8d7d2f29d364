package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	"go.uber.org/zap"
)

const DEFAULT_PROVIDER_TIMEOUT = 500 * time.Millisecond

var ErrInvalidBinding = errors.New("invalid binding")

// Sampler reads every bound provider once per cycle and publishes a new snapshot.
// Bindings are captured when a cycle starts, so a concurrent update only affects later cycles.
type Sampler struct {
	table    *RegisterTable
	provider port.ValueProvider
	bindings atomic.Pointer[[]domain.ValueBinding]
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSampler(table *RegisterTable, provider port.ValueProvider, timeout time.Duration, logger *zap.Logger) *Sampler {
	if timeout <= 0 {
		timeout = DEFAULT_PROVIDER_TIMEOUT
	}
	s := &Sampler{
		table:    table,
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
	s.bindings.Store(&[]domain.ValueBinding{})
	return s
}

// SetBindings validates and replaces the whole binding set.
func (s *Sampler) SetBindings(bindings []domain.ValueBinding) error {
	normalized, err := NormalizeBindings(s.table.RegisterMap(), bindings)
	if err != nil {
		return err
	}
	s.bindings.Store(&normalized)
	return nil
}

func (s *Sampler) Bindings() []domain.ValueBinding {
	return slices.Clone(*s.bindings.Load())
}

// NormalizeBindings resolves legacy names and rejects fields the map lacks,
// duplicated fields and empty references.
func NormalizeBindings(regmap *registermap.Map, bindings []domain.ValueBinding) ([]domain.ValueBinding, error) {
	seen := make(map[string]bool, len(bindings))
	normalized := make([]domain.ValueBinding, 0, len(bindings))
	for _, b := range bindings {
		name := registermap.CanonicalName(b.Name)
		if _, ok := regmap.Field(name); !ok {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidBinding, b.Name, registermap.ErrUnknownField)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %s bound twice", ErrInvalidBinding, name)
		}
		if b.Reference == "" {
			return nil, fmt.Errorf("%w: %s has no reference", ErrInvalidBinding, name)
		}
		seen[name] = true
		normalized = append(normalized, domain.ValueBinding{Name: name, Reference: b.Reference})
	}
	return normalized, nil
}

// SampleOnce runs a full cycle and publishes its snapshot to the register table.
// Fields whose value is invalid keep the words of the previous snapshot.
func (s *Sampler) SampleOnce(ctx context.Context) *domain.RegisterSnapshot {
	bindings := *s.bindings.Load()
	regmap := s.table.RegisterMap()
	words := maps.Clone(s.table.Snapshot().Words)

	values := make([]domain.SampledValue, len(bindings))
	var wg sync.WaitGroup
	for i, b := range bindings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values[i] = s.sample(ctx, b)
		}()
	}
	wg.Wait()

	valid := true
	for i := range values {
		v := &values[i]
		field, _ := regmap.Field(v.Name)
		v.Address = field.Address
		if !v.Valid {
			valid = false
			continue
		}
		encoded, err := field.Encode(v.Value)
		if err != nil {
			s.logger.Warn("sampler: could not encode value", zap.String("field", v.Name), zap.Error(err))
			v.Valid = false
			valid = false
			continue
		}
		for j, w := range encoded {
			words[field.Address+uint16(j)] = w
		}
	}

	snapshot := &domain.RegisterSnapshot{
		Words:     words,
		Valid:     valid,
		Values:    values,
		Timestamp: time.Now(),
	}
	s.table.Publish(snapshot)
	return snapshot
}

type providerResult struct {
	raw domain.RawState
	err error
}

func (s *Sampler) sample(ctx context.Context, b domain.ValueBinding) domain.SampledValue {
	value := domain.SampledValue{Name: b.Name, Reference: b.Reference}

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := make(chan providerResult, 1)
	go func() {
		raw, err := s.provider.GetState(qctx, b.Reference)
		ch <- providerResult{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			s.logger.Debug("sampler: provider error", zap.String("reference", b.Reference), zap.Error(r.err))
			return value
		}
		value.Raw = r.raw
		value.Value, value.Valid = Classify(r.raw)
		if !value.Valid {
			s.logger.Debug("sampler: invalid state", zap.String("reference", b.Reference), zap.Any("state", r.raw))
		}
	case <-qctx.Done():
		s.logger.Debug("sampler: provider timed out", zap.String("reference", b.Reference))
	}
	return value
}
