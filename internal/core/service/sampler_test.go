package service

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSampler(validation bool) (*Sampler, *RegisterTable, *fakeProvider) {
	table := NewRegisterTable(registermap.DTSU666, validation)
	provider := newFakeProvider()
	return NewSampler(table, provider, 100*time.Millisecond, zap.NewNop()), table, provider
}

func bind(pairs ...string) []domain.ValueBinding {
	var bindings []domain.ValueBinding
	for i := 0; i+1 < len(pairs); i += 2 {
		bindings = append(bindings, domain.ValueBinding{Name: pairs[i], Reference: pairs[i+1]})
	}
	return bindings
}

func TestSampleEncodesValidValues(t *testing.T) {
	require := require.New(t)

	sampler, table, provider := newTestSampler(true)
	require.NoError(sampler.SetBindings(bind(
		registermap.FIELD_VOLTAGE_L1, "sensor.voltage",
		registermap.FIELD_ENERGY_IMPORT, "sensor.import",
	)))
	provider.set("sensor.voltage", "230.1")
	provider.set("sensor.import", 70000.0)

	snap := sampler.SampleOnce(context.Background())
	require.True(snap.Valid)
	require.Same(snap, table.Snapshot())
	require.Len(snap.Values, 2)
	require.Equal(uint16(0x2006), snap.Values[0].Address)

	words, ok := table.Read(0x2006, 1)
	require.True(ok)
	require.Equal([]uint16{2301}, words)

	words, ok = table.Read(0x401E, 2)
	require.True(ok)
	require.Equal([]uint16{0x0001, 0x1170}, words)

	// unbound fields keep their defaults
	words, ok = table.Read(0x2044, 1)
	require.True(ok)
	require.Equal([]uint16{5000}, words)
	words, ok = table.Read(0x2014, 1)
	require.True(ok)
	require.Equal([]uint16{0}, words)
}

func TestDefaultsServedBeforeBinding(t *testing.T) {
	require := require.New(t)

	sampler, table, _ := newTestSampler(false)
	words, ok := table.Read(0x2006, 1)
	require.True(ok)
	require.Equal([]uint16{2300}, words)
	words, ok = table.Read(0x2044, 1)
	require.True(ok)
	require.Equal([]uint16{5000}, words)

	table.SetValidationEnabled(true)
	require.True(sampler.SampleOnce(context.Background()).Valid)
	for _, address := range []uint16{0x2006, 0x2008, 0x200A} {
		words, ok = table.Read(address, 1)
		require.True(ok)
		require.Equal([]uint16{2300}, words)
	}
	words, ok = table.Read(0x2044, 1)
	require.True(ok)
	require.Equal([]uint16{5000}, words)
}

func TestInvalidBindingGatesWholeTable(t *testing.T) {
	require := require.New(t)

	sampler, table, provider := newTestSampler(true)
	require.NoError(sampler.SetBindings(bind(
		registermap.FIELD_VOLTAGE_L1, "v",
		registermap.FIELD_FREQUENCY, "f",
	)))
	provider.set("v", "230.1")
	provider.set("f", "50")
	require.True(sampler.SampleOnce(context.Background()).Valid)

	provider.set("f", "unavailable")
	provider.set("v", "231.0")
	snap := sampler.SampleOnce(context.Background())
	require.False(snap.Valid)
	require.Equal(1, snap.ValidCount())

	_, ok := table.Read(0x2006, 1)
	require.False(ok)

	// words of the invalid field are carried forward, valid ones are updated
	require.Equal(uint16(5000), snap.Words[0x2044])
	require.Equal(uint16(2310), snap.Words[0x2006])

	table.SetValidationEnabled(false)
	words, ok := table.Read(0x2044, 1)
	require.True(ok)
	require.Equal([]uint16{5000}, words)
	require.True(table.Valid())
}

func TestEmptyBindingsAreValid(t *testing.T) {
	require := require.New(t)

	sampler, table, _ := newTestSampler(true)
	require.False(table.Valid())
	snap := sampler.SampleOnce(context.Background())
	require.True(snap.Valid)
	require.True(table.Valid())
}

func TestProviderErrorsAndTimeouts(t *testing.T) {
	require := require.New(t)

	sampler, _, provider := newTestSampler(true)
	require.NoError(sampler.SetBindings(bind(
		registermap.FIELD_VOLTAGE_L1, "missing",
		registermap.FIELD_FREQUENCY, "slow",
	)))
	provider.set("slow", "50")
	gate := provider.hold("slow")
	defer close(gate)

	start := time.Now()
	snap := sampler.SampleOnce(context.Background())
	require.Less(time.Since(start), time.Second)
	require.False(snap.Valid)
	for _, v := range snap.Values {
		require.False(v.Valid, v.Name)
	}
}

func TestBindingsCapturedAtCycleStart(t *testing.T) {
	require := require.New(t)

	table := NewRegisterTable(registermap.DTSU666, true)
	provider := newFakeProvider()
	sampler := NewSampler(table, provider, 5*time.Second, zap.NewNop())
	require.NoError(sampler.SetBindings(bind(registermap.FIELD_VOLTAGE_L1, "old")))
	provider.set("old", "230")
	provider.set("new", "240")
	gate := provider.hold("old")

	done := make(chan *domain.RegisterSnapshot)
	go func() {
		done <- sampler.SampleOnce(context.Background())
	}()
	require.Eventually(func() bool { return provider.callCount("old") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(sampler.SetBindings(bind(registermap.FIELD_VOLTAGE_L1, "new")))
	close(gate)

	snap := <-done
	require.Equal("old", snap.Values[0].Reference)
	require.Equal(uint16(2300), snap.Words[0x2006])
	require.Equal(0, provider.callCount("new"))

	snap = sampler.SampleOnce(context.Background())
	require.Equal("new", snap.Values[0].Reference)
	require.Equal(uint16(2400), snap.Words[0x2006])
}

func TestSetBindingsValidation(t *testing.T) {
	assert := assert.New(t)

	sampler, _, _ := newTestSampler(true)
	assert.ErrorIs(sampler.SetBindings(bind("reactive_power", "x")), ErrInvalidBinding)
	assert.ErrorIs(sampler.SetBindings(bind("reactive_power", "x")), registermap.ErrUnknownField)
	assert.ErrorIs(sampler.SetBindings(bind(registermap.FIELD_VOLTAGE_L1, "")), ErrInvalidBinding)
	assert.ErrorIs(sampler.SetBindings(bind(
		"voltage_entity", "a",
		registermap.FIELD_VOLTAGE_L1, "b",
	)), ErrInvalidBinding)

	assert.NoError(sampler.SetBindings(bind("power_entity", "sensor.power")))
	assert.Equal(bind(registermap.FIELD_ACTIVE_POWER_TOTAL, "sensor.power"), sampler.Bindings())
}

func TestTableReadsAreAllOrNothing(t *testing.T) {
	require := require.New(t)

	sampler, table, provider := newTestSampler(false)
	require.NoError(sampler.SetBindings(bind(registermap.FIELD_ENERGY_IMPORT, "e")))

	stop := make(chan struct{})
	go func() {
		k := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			// k*65537 puts k in both words
			k = k%30000 + 1
			provider.set("e", float64(k*65537))
			sampler.SampleOnce(context.Background())
		}
	}()
	for i := 0; i < 2000; i++ {
		words, ok := table.Read(0x401E, 2)
		require.True(ok)
		require.Equal(words[0], words[1], "torn read")
	}
	close(stop)
}
