package sunspec_modbus

import "time"

func CreateTestACMeterModbusReader() (ACMeterModbusReader, error) {
	return TestACMeterModbusReader{}, nil
}

// TestACMeterModbusReader returns a fixed single phase export situation.
type TestACMeterModbusReader struct {
}

func (reader TestACMeterModbusReader) Open() error {
	return nil
}

func (reader TestACMeterModbusReader) Close() error {
	return nil
}

func (reader TestACMeterModbusReader) Validate() error {
	return nil
}

func (reader TestACMeterModbusReader) GetInfo() (*ACMeterInfo, error) {
	return &ACMeterInfo{
		Manufacturer: "Fronius",
		Model:        "Smart Meter TS 100A-1",
		Version:      "1.2",
		Serial:       "40123456",
	}, nil
}

func (reader TestACMeterModbusReader) GetReading() (*ACMeterReading, error) {
	return &ACMeterReading{
		PowerWatt:              -1250,
		PhasePowerWatt:         [3]float64{-1250, 0, 0},
		PhaseVoltage:           [3]float64{234.2, 0, 0},
		PhaseCurrent:           [3]float64{5.34, 0, 0},
		PowerFactor:            0.98,
		Frequency:              50,
		TotalEnergyExportedKWh: 2770.34,
		TotalEnergyImportedKWh: 550.22,
		Timestamp:              time.Now(),
	}, nil
}
