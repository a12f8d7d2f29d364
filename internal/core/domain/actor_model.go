package domain

import "github.com/berfenger/dtsu666emu/pkg/sunspec_modbus"

const (
	ACTOR_ID_MASTER         = "master"
	ACTOR_ID_SAMPLER        = "sampler"
	ACTOR_ID_UPSTREAM_METER = "upstream_meter"
	ACTOR_ID_MQTT           = "mqtt"
	ACTOR_ID_HA_DISCOVERY   = "hadiscovery"
)

type GetMeterReadingRequest struct {
	ActorRequestMixIn
}

type GetMeterReadingResponse struct {
	ActorResponseMixIn
	Info    *sunspec_modbus.ACMeterInfo
	Reading *sunspec_modbus.ACMeterReading
}

// Reconfiguration

type ApplyMappingRequest struct {
	ActorRequestMixIn
	Bindings []ValueBinding
}

type ApplyMappingResponse struct {
	ActorResponseMixIn
}

type ApplyListenerRequest struct {
	ActorRequestMixIn
	Port   int
	UnitId uint8
}

type ApplyListenerResponse struct {
	ActorResponseMixIn
	Config ServerConfig
}

type SetValidationRequest struct {
	ActorRequestMixIn
	Enabled bool
}

type SetValidationResponse struct {
	ActorResponseMixIn
}

type GetStatusRequest struct {
	ActorRequestMixIn
}

type GetStatusResponse struct {
	ActorResponseMixIn
	Status Status
}

// SampleCycleDone is emitted by the sampler after every published snapshot.
type SampleCycleDone struct {
	Snapshot *RegisterSnapshot
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
