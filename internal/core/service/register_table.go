package service

import (
	"sync/atomic"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
)

// RegisterTable serves protocol reads from the current snapshot. The snapshot reference is
// swapped atomically by the sampler; readers never take a lock.
type RegisterTable struct {
	regmap     *registermap.Map
	current    atomic.Pointer[domain.RegisterSnapshot]
	validation atomic.Bool
}

// NewRegisterTable starts with every field at its default and an invalid verdict
// until the first sampling cycle publishes.
func NewRegisterTable(regmap *registermap.Map, validationEnabled bool) *RegisterTable {
	t := &RegisterTable{regmap: regmap}
	t.validation.Store(validationEnabled)
	t.current.Store(&domain.RegisterSnapshot{
		Words:     regmap.DefaultWords(),
		Valid:     false,
		Timestamp: time.Now(),
	})
	return t
}

func (t *RegisterTable) RegisterMap() *registermap.Map {
	return t.regmap
}

func (t *RegisterTable) Covers(address uint16, count uint16) bool {
	return t.regmap.Covers(address, count)
}

func (t *RegisterTable) Read(address uint16, count uint16) ([]uint16, bool) {
	snap := t.current.Load()
	if t.validation.Load() && !snap.Valid {
		return nil, false
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = snap.Words[address+uint16(i)]
	}
	return words, true
}

func (t *RegisterTable) Publish(snapshot *domain.RegisterSnapshot) {
	t.current.Store(snapshot)
}

func (t *RegisterTable) Snapshot() *domain.RegisterSnapshot {
	return t.current.Load()
}

func (t *RegisterTable) SetValidationEnabled(enabled bool) {
	t.validation.Store(enabled)
}

func (t *RegisterTable) ValidationEnabled() bool {
	return t.validation.Load()
}

// Valid is the verdict a read would get right now.
func (t *RegisterTable) Valid() bool {
	return !t.validation.Load() || t.current.Load().Valid
}

var _ port.RegisterSource = (*RegisterTable)(nil)
