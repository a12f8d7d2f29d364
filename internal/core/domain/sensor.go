package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/dtsu666emu/pkg/registermap"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_EMULATOR_STATE     = "emulator_state"
	SENSOR_ID_INVALID_DATA       = "invalid_data"
	SENSOR_ID_MODBUS_CONNECTIONS = "modbus_connections"
	SENSOR_ID_VALID_ENTITIES     = "valid_entities"
	SENSOR_ID_FIELD_PREFIX       = "meter_"
	SWITCH_ID_VALIDATION         = "validation"
	INPUT_NUMBER_ID_UNIT_ID      = "unit_id"
	INPUT_NUMBER_ID_PORT         = "port"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_POWER_FACTOR    = "power_factor"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_PROBLEM         = "problem"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	INPUT_NUMBER_MODE_BOX        = "box"
	INPUT_NUMBER_MODE_SLIDER     = "slider"
)

func EmulatorDevice(baseTopic string, mapName string) Device {
	return Device{
		Id:           fmt.Sprintf("dtsu666emu_%s", md5HashShort(baseTopic)),
		Manufacturer: "Chint (emulated)",
		Model:        fmt.Sprintf("DTSU666 %s", mapName),
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("DTSU666 emulator %s", md5HashShort(baseTopic)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func FieldSensorId(field string) string {
	return SENSOR_ID_FIELD_PREFIX + field
}

func StatusSensors(device Device) []GenericSensor {
	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         device,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(device.Id, SENSOR_ID_BRIDGE_STATE),
	})

	// the full status document rides on the attributes topic
	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(device),
		Id:             SENSOR_ID_EMULATOR_STATE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Emulator state",
		Icon:           "mdi:meter-electric",
		UniqueId:       uniqueId(device.Id, SENSOR_ID_EMULATOR_STATE),
		JSONAttributes: true,
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(device),
		Id:             SENSOR_ID_INVALID_DATA,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Invalid data",
		DeviceClass:    DEVICE_CLASS_PROBLEM,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(device.Id, SENSOR_ID_INVALID_DATA),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(device),
		Id:             SENSOR_ID_MODBUS_CONNECTIONS,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Modbus connections",
		StateClass:     STATE_CLASS_MEASUREMENT,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:lan-connect",
		UniqueId:       uniqueId(device.Id, SENSOR_ID_MODBUS_CONNECTIONS),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(device),
		Id:             SENSOR_ID_VALID_ENTITIES,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Valid entities",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:check-network",
		UniqueId:       uniqueId(device.Id, SENSOR_ID_VALID_ENTITIES),
	})

	return sensors
}

// FieldSensors exposes the value last encoded for every field of the map.
func FieldSensors(device Device, regmap *registermap.Map) []GenericSensor {
	var sensors []GenericSensor
	for _, f := range regmap.Fields() {
		id := FieldSensorId(f.Name)
		stateClass, deviceClass := classesForUnit(f.Unit)
		sensors = append(sensors, GenericSensor{
			Device:            IdDevice(device),
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              f.Name,
			StateClass:        stateClass,
			DeviceClass:       deviceClass,
			UnitOfMeasurement: f.Unit,
			EnabledByDefault:  optionalBool(deviceClass == DEVICE_CLASS_POWER),
			UniqueId:          uniqueId(device.Id, id),
		})
	}
	return sensors
}

func ControlSwitches(device Device) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:         IdDevice(device),
			Id:             SWITCH_ID_VALIDATION,
			Name:           "Data validation",
			UniqueId:       uniqueId(device.Id, SWITCH_ID_VALIDATION),
			Icon:           "mdi:shield-check",
			EntityCategory: ENTITY_CLASS_CONFIG,
		},
	}
}

func ControlInputNumbers(device Device, cfg ServerConfig) []GenericInputNumber {
	var inputNumbers []GenericInputNumber

	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:         IdDevice(device),
		Id:             INPUT_NUMBER_ID_UNIT_ID,
		Name:           "Modbus unit id",
		UniqueId:       uniqueId(device.Id, INPUT_NUMBER_ID_UNIT_ID),
		Icon:           "mdi:identifier",
		Min:            1,
		Max:            247,
		Step:           1,
		Mode:           INPUT_NUMBER_MODE_BOX,
		InitialValue:   float64(cfg.UnitId),
		EntityCategory: ENTITY_CLASS_CONFIG,
	})

	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:         IdDevice(device),
		Id:             INPUT_NUMBER_ID_PORT,
		Name:           "Modbus TCP port",
		UniqueId:       uniqueId(device.Id, INPUT_NUMBER_ID_PORT),
		Icon:           "mdi:ethernet",
		Min:            1,
		Max:            65535,
		Step:           1,
		Mode:           INPUT_NUMBER_MODE_BOX,
		InitialValue:   float64(cfg.Port),
		EntityCategory: ENTITY_CLASS_CONFIG,
	})

	return inputNumbers
}

func classesForUnit(unit string) (string, string) {
	switch unit {
	case "V":
		return STATE_CLASS_MEASUREMENT, DEVICE_CLASS_VOLTAGE
	case "A":
		return STATE_CLASS_MEASUREMENT, DEVICE_CLASS_CURRENT
	case "W", "kW":
		return STATE_CLASS_MEASUREMENT, DEVICE_CLASS_POWER
	case "Hz":
		return STATE_CLASS_MEASUREMENT, DEVICE_CLASS_FREQUENCY
	case "kWh", "Wh":
		return STATE_CLASS_TOTAL_INCREASING, DEVICE_CLASS_ENERGY
	}
	return STATE_CLASS_MEASUREMENT, ""
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
