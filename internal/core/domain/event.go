package domain

import (
	"encoding/json"
	"strconv"
)

// Components a state update is published under.
const (
	COMPONENT_SENSOR        = "sensor"
	COMPONENT_BINARY_SENSOR = "binary_sensor"
	COMPONENT_SWITCH        = "switch"
	COMPONENT_NUMBER        = "number"
	COMPONENT_ATTRIBUTES    = "attributes"
	COMPONENT_BRIDGE        = "bridge"
)

const (
	PAYLOAD_ON      = "ON"
	PAYLOAD_OFF     = "OFF"
	PAYLOAD_ONLINE  = "online"
	PAYLOAD_OFFLINE = "offline"
)

type SensorUpdateEventMixIn struct {
	Id string
}

// SensorUpdateEvent is a state change of one entity, rendered as the payload of its state topic.
type SensorUpdateEvent interface {
	SensorId() string
	Component() string
	Payload() (string, error)
	// Retained entities are controls whose state must survive a broker restart.
	Retained() bool
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

func (e SensorUpdateEventMixIn) Retained() bool {
	return false
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

func (e FloatSensorUpdateEvent) Component() string { return COMPONENT_SENSOR }
func (e FloatSensorUpdateEvent) Payload() (string, error) {
	return strconv.FormatFloat(e.Value, 'f', int(e.Decimals), 64), nil
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

func (e BinarySensorUpdateEvent) Component() string        { return COMPONENT_BINARY_SENSOR }
func (e BinarySensorUpdateEvent) Payload() (string, error) { return onOff(e.Value), nil }

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

func (e SwitchSensorUpdateEvent) Component() string        { return COMPONENT_SWITCH }
func (e SwitchSensorUpdateEvent) Payload() (string, error) { return onOff(e.Value), nil }
func (e SwitchSensorUpdateEvent) Retained() bool           { return true }

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

func (e TextSensorUpdateEvent) Component() string        { return COMPONENT_SENSOR }
func (e TextSensorUpdateEvent) Payload() (string, error) { return e.Value, nil }

// BridgeStateUpdateEvent is the availability of the whole emulator.
type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

func (e BridgeStateUpdateEvent) Component() string { return COMPONENT_BRIDGE }
func (e BridgeStateUpdateEvent) Payload() (string, error) {
	if e.Value {
		return PAYLOAD_ONLINE, nil
	}
	return PAYLOAD_OFFLINE, nil
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

func (e InputNumberSensorUpdateEvent) Component() string { return COMPONENT_NUMBER }
func (e InputNumberSensorUpdateEvent) Payload() (string, error) {
	return strconv.FormatFloat(e.Value, 'f', int(e.Decimals), 64), nil
}
func (e InputNumberSensorUpdateEvent) Retained() bool { return true }

// JSONAttributesUpdateEvent carries a document published on a sensor's attributes topic.
type JSONAttributesUpdateEvent struct {
	SensorUpdateEventMixIn
	Attributes any
}

func (e JSONAttributesUpdateEvent) Component() string { return COMPONENT_ATTRIBUTES }
func (e JSONAttributesUpdateEvent) Payload() (string, error) {
	b, err := json.Marshal(e.Attributes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func onOff(value bool) string {
	if value {
		return PAYLOAD_ON
	}
	return PAYLOAD_OFF
}
