package events

import (
	. "github.com/berfenger/dtsu666emu/internal/core/domain"
)

// StatusToUpdateEvents maps an emulator status onto the sensor entities announced by discovery.
func StatusToUpdateEvents(status Status) []any {
	var events []any

	// Emulator state and its attribute document
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EMULATOR_STATE,
		},
		Value: status.State,
	})
	events = append(events, JSONAttributesUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_EMULATOR_STATE,
		},
		Attributes: status,
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_INVALID_DATA,
		},
		Value: !status.DataValid,
	})
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_MODBUS_CONNECTIONS,
		},
		Value:    float64(status.Connections),
		Decimals: 0,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_VALID_ENTITIES,
		},
		Value: status.ValidEntities,
	})

	events = append(events, SampledValuesToUpdateEvents(status.Values)...)
	events = append(events, ControlsToUpdateEvents(ServerConfig{
		Port:              status.Port,
		UnitId:            status.UnitId,
		ValidationEnabled: status.ValidationEnabled,
	})...)

	return events
}

// SampledValuesToUpdateEvents skips invalid values so the entity keeps its last good state.
func SampledValuesToUpdateEvents(values []SampledValue) []any {
	var events []any
	for _, v := range values {
		if !v.Valid {
			continue
		}
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: FieldSensorId(v.Name),
			},
			Value:    v.Value,
			Decimals: 3,
		})
	}
	return events
}

func ControlsToUpdateEvents(cfg ServerConfig) []any {
	var events []any
	events = append(events, SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_VALIDATION,
		},
		Value: cfg.ValidationEnabled,
	})
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_UNIT_ID,
		},
		Value: float64(cfg.UnitId),
	})
	events = append(events, InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_PORT,
		},
		Value: float64(cfg.Port),
	})
	return events
}
