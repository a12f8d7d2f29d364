package service

import (
	"context"
	"testing"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serverRecorder struct {
	servers  []*fakeServer
	failNext bool
}

func (r *serverRecorder) factory() port.ProtocolServer {
	s := &fakeServer{failBind: r.failNext}
	r.failNext = false
	r.servers = append(r.servers, s)
	return s
}

func newTestController(t *testing.T) (*ReconfigController, *serverRecorder, *Sampler, *fakeProvider) {
	sampler, table, provider := newTestSampler(true)
	rec := &serverRecorder{}
	ctrl, err := NewReconfigController(sampler, table, rec.factory, domain.ServerConfig{
		Host:              "127.0.0.1",
		Port:              1502,
		UnitId:            1,
		ValidationEnabled: true,
	}, zap.NewNop())
	require.NoError(t, err)
	return ctrl, rec, sampler, provider
}

func TestControllerRejectsInvalidConfig(t *testing.T) {
	require := require.New(t)

	sampler, table, _ := newTestSampler(true)
	_, err := NewReconfigController(sampler, table, nil, domain.ServerConfig{Port: 0, UnitId: 1}, zap.NewNop())
	require.ErrorIs(err, ErrInvalidPort)
	_, err = NewReconfigController(sampler, table, nil, domain.ServerConfig{Port: 502, UnitId: 248}, zap.NewNop())
	require.ErrorIs(err, ErrInvalidUnitId)
	_, err = NewReconfigController(sampler, table, nil, domain.ServerConfig{Port: 70000, UnitId: 1}, zap.NewNop())
	require.ErrorIs(err, ErrInvalidPort)
}

func TestControllerStartStop(t *testing.T) {
	require := require.New(t)

	ctrl, rec, _, _ := newTestController(t)
	require.Equal(domain.STATUS_STOPPED, ctrl.Status().State)

	require.NoError(ctrl.Start())
	require.NoError(ctrl.Start())
	require.Len(rec.servers, 1)
	require.Equal("127.0.0.1:1502", rec.servers[0].addr)
	require.Equal(uint8(1), rec.servers[0].UnitId())
	require.Equal(domain.STATUS_INVALID_DATA, ctrl.Status().State)

	ctrl.Stop()
	require.False(rec.servers[0].isRunning())
	require.Equal(domain.STATUS_STOPPED, ctrl.Status().State)
}

func TestControllerPortChangeBindsBeforeClosing(t *testing.T) {
	require := require.New(t)

	ctrl, rec, _, _ := newTestController(t)
	require.NoError(ctrl.Start())

	cfg, err := ctrl.ApplyListener(1503, 7)
	require.NoError(err)
	require.Equal(1503, cfg.Port)
	require.Equal(uint8(7), cfg.UnitId)
	require.Len(rec.servers, 2)
	require.False(rec.servers[0].isRunning())
	require.True(rec.servers[1].isRunning())
	require.Equal("127.0.0.1:1503", rec.servers[1].addr)
	require.Equal(uint8(7), rec.servers[1].UnitId())

	// same values again is a no-op
	_, err = ctrl.ApplyListener(1503, 7)
	require.NoError(err)
	require.Len(rec.servers, 2)
}

func TestControllerRollsBackOnBindFailure(t *testing.T) {
	require := require.New(t)

	ctrl, rec, _, _ := newTestController(t)
	require.NoError(ctrl.Start())

	rec.failNext = true
	cfg, err := ctrl.ApplyListener(80, 3)
	require.Error(err)
	require.Equal(1502, cfg.Port)
	require.Equal(uint8(1), cfg.UnitId)
	require.True(rec.servers[0].isRunning())
	require.Equal(uint8(1), rec.servers[0].UnitId())
	require.Equal(1502, ctrl.Config().Port)

	_, err = ctrl.ApplyListener(0, 3)
	require.ErrorIs(err, ErrInvalidPort)
	require.Len(rec.servers, 2)
}

func TestControllerUnitIdChangeInPlace(t *testing.T) {
	require := require.New(t)

	ctrl, rec, _, _ := newTestController(t)
	require.NoError(ctrl.Start())

	_, err := ctrl.ApplyListener(1502, 9)
	require.NoError(err)
	require.Len(rec.servers, 1)
	require.True(rec.servers[0].isRunning())
	require.Equal(uint8(9), rec.servers[0].UnitId())
}

func TestControllerListenerChangeWhileStopped(t *testing.T) {
	require := require.New(t)

	ctrl, rec, _, _ := newTestController(t)
	_, err := ctrl.ApplyListener(1600, 2)
	require.NoError(err)
	require.Empty(rec.servers)

	require.NoError(ctrl.Start())
	require.Equal("127.0.0.1:1600", rec.servers[0].addr)
	require.Equal(uint8(2), rec.servers[0].UnitId())
}

func TestControllerMappingAndValidation(t *testing.T) {
	require := require.New(t)

	ctrl, rec, sampler, provider := newTestController(t)
	require.NoError(ctrl.Start())

	require.Error(ctrl.ApplyMapping(bind("nope", "x")))
	require.NoError(ctrl.ApplyMapping(bind(
		registermap.FIELD_VOLTAGE_L1, "v",
		registermap.FIELD_FREQUENCY, "f",
	)))
	require.True(rec.servers[0].isRunning())
	provider.set("v", "230.1")
	provider.set("f", "unknown")
	sampler.SampleOnce(context.Background())

	status := ctrl.Status()
	require.Equal(domain.STATUS_INVALID_DATA, status.State)
	require.Equal(2, status.Bindings)
	require.Equal("1/2", status.ValidEntities)
	require.False(status.DataValid)
	require.Equal(registermap.MAP_DTSU666, status.RegisterMap)

	ctrl.SetValidationEnabled(false)
	status = ctrl.Status()
	require.Equal(domain.STATUS_RUNNING, status.State)
	require.True(status.DataValid)
	require.False(status.ValidationEnabled)
	require.False(ctrl.Config().ValidationEnabled)

	rec.servers[0].conns = 3
	require.Equal(3, ctrl.Status().Connections)
}
