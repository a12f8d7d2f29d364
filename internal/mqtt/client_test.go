package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload string
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

func testClient() *MQTTClient {
	cfg := util.LoadTestConfig()
	return CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
}

func TestSwitchCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/command"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_device", "device extract")
}

func TestSwitchCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/state"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")

	matches = r.FindAllStringSubmatch("other/loremTopic/switch/my_device/command", 1)
	assert.Equal(len(matches), 0, "anchored to base topic")
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/number/number_name/set"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "number_name", "number_id extract")
}

func TestInputNumberCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/number_name/command"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestParseMQTTCommand(t *testing.T) {

	assert := assert.New(t)
	client := testClient()

	cmd, err := client.ParseMQTTCommand(fakeMessage{topic: "dtsu666emu/switch/validation/command", payload: "off"})
	assert.NoError(err)
	assert.Equal(&ParsedMQTTCommand{DeviceId: "validation", Command: COMMAND_SWITCH, Payload: MQTT_PAYLOAD_OFF}, cmd)

	cmd, err = client.ParseMQTTCommand(fakeMessage{topic: "dtsu666emu/number/unit_id/set", payload: " 11 "})
	assert.NoError(err)
	assert.Equal(&ParsedMQTTCommand{DeviceId: "unit_id", Command: COMMAND_NUMBER, Payload: "11"}, cmd)

	_, err = client.ParseMQTTCommand(fakeMessage{topic: "dtsu666emu/switch/validation/command", payload: "maybe"})
	assert.Error(err)

	_, err = client.ParseMQTTCommand(fakeMessage{topic: "dtsu666emu/number/port/set", payload: "abc"})
	assert.Error(err)

	_, err = client.ParseMQTTCommand(fakeMessage{topic: "dtsu666emu/sensor/emulator_state/state", payload: "running"})
	assert.Error(err)
}

func TestDiscoveryMessages(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)
	client := testClient()

	dev := domain.EmulatorDevice("dtsu666emu", "dtsu666")
	sensors := domain.StatusSensors(dev)
	require.NotEmpty(sensors)

	var state domain.GenericSensor
	for _, s := range sensors {
		if s.Id == domain.SENSOR_ID_EMULATOR_STATE {
			state = s
		}
	}
	msg := GenericSensorToHADiscoveryMessage(client, state)
	assert.Equal("dtsu666emu/sensor/emulator_state/state", msg.StateTopic)
	assert.Equal("dtsu666emu/sensor/emulator_state/attributes", msg.JSONAttrTopic)
	assert.Equal("dtsu666emu/bridge/state", msg.AvTopic)
	assert.Equal("homeassistant/sensor/"+dev.Id+"/emulator_state/config", HADiscoverySensorTopic(client.DiscoveryPrefix(), state))

	bridge := GenericSensorToHADiscoveryMessage(client, sensors[0])
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)
	assert.Equal("dtsu666emu/bridge/state", bridge.StateTopic)

	sw := GenericSwitchToHADiscoveryMessage(client, domain.ControlSwitches(dev)[0])
	assert.Equal("dtsu666emu/switch/validation/command", sw.CommandTopic)
	assert.Equal(domain.ENTITY_CLASS_CONFIG, sw.EntityCategory)

	numbers := domain.ControlInputNumbers(dev, domain.ServerConfig{Port: 502, UnitId: 1})
	num := GenericInputNumberToHADiscoveryMessage(client, numbers[0])
	assert.Equal("dtsu666emu/number/unit_id/set", num.CommandTopic)
	assert.Equal(247.0, num.Max)

	payload, err := json.Marshal(num)
	require.NoError(err)
	assert.Contains(string(payload), `"platform":"mqtt"`)
}
