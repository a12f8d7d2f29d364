package sunspec_modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// register offsets from the model id register of SunSpec models 201-204 (integer + scale factor)
const (
	acMeterOffCurrent      = 3
	acMeterOffCurrentSF    = 6
	acMeterOffVoltage      = 8
	acMeterOffVoltageSF    = 15
	acMeterOffFrequency    = 16
	acMeterOffFrequencySF  = 17
	acMeterOffPower        = 18
	acMeterOffPhasePower   = 19
	acMeterOffPowerSF      = 22
	acMeterOffPF           = 33
	acMeterOffPFSF         = 37
	acMeterOffEnergyExport = 38
	acMeterOffEnergyImport = 46
	acMeterOffEnergySF     = 54
	acMeterBlockSize       = 56
)

type ACMeterIntSFModbusReader struct {
	ModbusClient
	common        uint16
	acMeter       uint16
	ignoreFronius bool
}

func CreateACMeterIntSFModbusReader(ip string, port uint, acMeterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "acMeter"), zap.Uint8("acMeter", acMeterAddress)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if err := client.SetUnitId(acMeterAddress); err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		ignoreFronius: ignoreFronius,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	if err := reader.survey(); err != nil {
		reader.client.Close()
		return err
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *ACMeterIntSFModbusReader) Validate() error {
	str, err := reader.readString(SUNSPEC_BASE_ADDRESS, 4)
	if err != nil {
		return err
	}
	if str != SUNSPEC_MARKER {
		return ErrNotSunSpec
	}
	str, err = reader.readString(SUNSPEC_BASE_ADDRESS+4, 32)
	if err != nil {
		return err
	}
	if !reader.ignoreFronius && str != "Fronius" {
		return errors.New("could not find a Fronius smart meter")
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) GetInfo() (*ACMeterInfo, error) {
	manufacturer, err := reader.readString(reader.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.common+50, 32)
	if err != nil {
		return nil, err
	}
	return &ACMeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

// GetReading fetches the whole meter model in a single request so every quantity
// belongs to the same instant.
func (reader *ACMeterIntSFModbusReader) GetReading() (*ACMeterReading, error) {
	r, err := reader.readRegisters(reader.acMeter, acMeterBlockSize, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	reading := &ACMeterReading{
		PowerWatt:              applySFint16(r[acMeterOffPower], r[acMeterOffPowerSF]),
		PowerFactor:            applySFint16(r[acMeterOffPF], r[acMeterOffPFSF]) / 100,
		Frequency:              applySF(r[acMeterOffFrequency], r[acMeterOffFrequencySF]),
		TotalEnergyExportedKWh: applySFuint32(r[acMeterOffEnergyExport], r[acMeterOffEnergyExport+1], r[acMeterOffEnergySF]) / 1000,
		TotalEnergyImportedKWh: applySFuint32(r[acMeterOffEnergyImport], r[acMeterOffEnergyImport+1], r[acMeterOffEnergySF]) / 1000,
		Timestamp:              time.Now(),
	}
	for ph := 0; ph < 3; ph++ {
		reading.PhaseCurrent[ph] = applySFint16(r[acMeterOffCurrent+ph], r[acMeterOffCurrentSF])
		reading.PhaseVoltage[ph] = applySFint16(r[acMeterOffVoltage+ph], r[acMeterOffVoltageSF])
		reading.PhasePowerWatt[ph] = applySFint16(r[acMeterOffPhasePower+ph], r[acMeterOffPowerSF])
	}
	return reading, nil
}

func (reader *ACMeterIntSFModbusReader) survey() error {
	blocks, err := surveyBlocks(reader.ModbusClient)
	if err != nil {
		return err
	}
	reader.common = blocks[SUNSPEC_WK_COMMON]
	for id := uint16(SUNSPEC_WK_AC_METER_MIN); id <= SUNSPEC_WK_AC_METER_MAX; id++ {
		if addr, ok := blocks[id]; ok {
			reader.acMeter = addr
			break
		}
	}
	if reader.common == 0 || reader.acMeter == 0 {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	return nil
}
