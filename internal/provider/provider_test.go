package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/dtsu666emu/internal/adapter/actor"
	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/service"
	"github.com/berfenger/dtsu666emu/pkg/registermap"
	"github.com/berfenger/dtsu666emu/pkg/sunspec_modbus"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouter(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	static := NewStatic(map[string]string{"voltage": "230.5"})
	other := NewStatic(map[string]string{"sensor.grid_power": "-120"})

	router := NewRouter(SCHEME_HA)
	router.Register(SCHEME_STATIC, static)
	router.Register(SCHEME_HA, other)

	raw, err := router.GetState(ctx, "static:voltage")
	assert.NoError(err)
	assert.Equal("230.5", raw)

	raw, err = router.GetState(ctx, "ha:sensor.grid_power")
	assert.NoError(err)
	assert.Equal("-120", raw)

	// no scheme goes to the default provider untouched
	raw, err = router.GetState(ctx, "sensor.grid_power")
	assert.NoError(err)
	assert.Equal("-120", raw)

	raw, err = router.GetState(ctx, "static:missing")
	assert.NoError(err)
	assert.Nil(raw)

	empty := NewRouter("none")
	_, err = empty.GetState(ctx, "whatever")
	assert.Error(err)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	topics   []string
	handlers map[string]pahomqtt.MessageHandler
}

func (s *fakeSubscriber) Subscribe(topic string, qos byte, handler pahomqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[string]pahomqtt.MessageHandler{}
	}
	s.topics = append(s.topics, topic)
	s.handlers[topic] = handler
	continuation(nil)
}

type fakeMessage struct {
	topic   string
	payload string
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return true }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

func TestMQTTStates(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	states := NewMQTTStates(zap.NewNop())

	// referenced before the client connects
	raw, err := states.GetState(ctx, "meter/voltage")
	assert.NoError(err)
	assert.Nil(raw)

	sub := &fakeSubscriber{}
	states.Attach(sub)
	assert.Equal([]string{"meter/voltage"}, sub.topics)

	sub.handlers["meter/voltage"](nil, fakeMessage{topic: "meter/voltage", payload: " 231.2 "})
	raw, err = states.GetState(ctx, "meter/voltage")
	assert.NoError(err)
	assert.Equal("231.2", raw)

	// new topics subscribe on first reference
	_, _ = states.GetState(ctx, "meter/power")
	assert.Equal([]string{"meter/voltage", "meter/power"}, sub.topics)
	_, _ = states.GetState(ctx, "meter/power")
	assert.Len(sub.topics, 2, "subscribed once")

	sub.handlers["meter/power"](nil, fakeMessage{topic: "meter/power", payload: `{"value": -1250.5, "unit": "W"}`})
	raw, _ = states.GetState(ctx, "meter/power")
	v, ok := service.Classify(raw)
	assert.True(ok)
	assert.Equal(-1250.5, v)

	// reconnect subscribes every known topic again
	sub2 := &fakeSubscriber{}
	states.Attach(sub2)
	assert.ElementsMatch([]string{"meter/voltage", "meter/power"}, sub2.topics)
}

func TestUnwrapPayload(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("230", unwrapPayload([]byte("230")))
	assert.Equal("unavailable", unwrapPayload([]byte("unavailable")))
	assert.Equal("on", unwrapPayload([]byte(`{"state": "on"}`)))
	assert.Nil(unwrapPayload([]byte(`{"power": 12}`)))
	assert.Equal("{broken", unwrapPayload([]byte("{broken")))

	v, ok := service.Classify(unwrapPayload([]byte(`{"state": 49.98}`)))
	assert.True(ok)
	assert.Equal(49.98, v)
}

func TestHomeAssistant(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/states/sensor.grid_voltage":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"entity_id": "sensor.grid_voltage", "state": "229.8", "attributes": {"unit_of_measurement": "V"}}`))
		case "/api/states/sensor.slow":
			time.Sleep(500 * time.Millisecond)
			w.Write([]byte(`{"state": "1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ha := NewHomeAssistant(srv.URL+"/", "secret", 2*time.Second)

	raw, err := ha.GetState(ctx, "sensor.grid_voltage")
	assert.NoError(err)
	assert.Equal("229.8", raw)

	raw, err = ha.GetState(ctx, "sensor.unknown")
	assert.NoError(err)
	assert.Nil(raw)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = ha.GetState(short, "sensor.slow")
	assert.Error(err)

	_, err = NewHomeAssistant(srv.URL, "wrong", time.Second).GetState(ctx, "sensor.grid_voltage")
	assert.Error(err)
}

func TestSunSpec(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	as := actor.NewActorSystem()
	defer as.Shutdown()

	props := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewUpstreamMeterActor(sunspec_modbus.TestACMeterModbusReader{}, adactor.DEFAULT_READING_MAX_AGE, zap.NewNop())
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_UPSTREAM_METER)
	require.NoError(err)

	sunspec := NewSunSpec(as.Root, func() *actor.PID { return pid }, time.Second)

	raw, err := sunspec.GetState(context.Background(), registermap.FIELD_ACTIVE_POWER_TOTAL)
	require.NoError(err)
	assert.Equal(-1250.0, raw)

	raw, err = sunspec.GetState(context.Background(), registermap.FIELD_ENERGY_IMPORT)
	require.NoError(err)
	assert.Equal(550.22, raw)

	raw, err = sunspec.GetState(context.Background(), "unknown_quantity")
	assert.NoError(err)
	assert.Nil(raw)

	noMeter := NewSunSpec(as.Root, func() *actor.PID { return nil }, time.Second)
	_, err = noMeter.GetState(context.Background(), registermap.FIELD_FREQUENCY)
	assert.ErrorIs(err, ErrNoReading)
}
