package sunspec_modbus

import (
	"time"

	"github.com/berfenger/dtsu666emu/pkg/registermap"
)

type ACMeterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

// ACMeterReading is one consistent read of a SunSpec meter model.
type ACMeterReading struct {
	// Total AC power flow. Positive = import. Negative = export
	PowerWatt      float64
	PhasePowerWatt [3]float64
	PhaseVoltage   [3]float64
	PhaseCurrent   [3]float64
	// Power factor as a ratio in [-1, 1]
	PowerFactor float64
	Frequency   float64
	// Lifetime exported energy in kWh
	TotalEnergyExportedKWh float64
	// Lifetime imported energy in kWh
	TotalEnergyImportedKWh float64
	Timestamp              time.Time
}

func (r *ACMeterReading) ImportPowerWatt() float64 {
	return max(r.PowerWatt, 0)
}

func (r *ACMeterReading) ExportPowerWatt() float64 {
	return max(-r.PowerWatt, 0)
}

// Quantity looks a measurement up by register field name.
func (r *ACMeterReading) Quantity(name string) (float64, bool) {
	switch name {
	case registermap.FIELD_VOLTAGE_L1:
		return r.PhaseVoltage[0], true
	case registermap.FIELD_VOLTAGE_L2:
		return r.PhaseVoltage[1], true
	case registermap.FIELD_VOLTAGE_L3:
		return r.PhaseVoltage[2], true
	case registermap.FIELD_CURRENT_L1:
		return r.PhaseCurrent[0], true
	case registermap.FIELD_CURRENT_L2:
		return r.PhaseCurrent[1], true
	case registermap.FIELD_CURRENT_L3:
		return r.PhaseCurrent[2], true
	case registermap.FIELD_ACTIVE_POWER_TOTAL:
		return r.PowerWatt, true
	case registermap.FIELD_ACTIVE_POWER_L1:
		return r.PhasePowerWatt[0], true
	case registermap.FIELD_ACTIVE_POWER_L2:
		return r.PhasePowerWatt[1], true
	case registermap.FIELD_ACTIVE_POWER_L3:
		return r.PhasePowerWatt[2], true
	case registermap.FIELD_POWER_FACTOR:
		return r.PowerFactor, true
	case registermap.FIELD_FREQUENCY:
		return r.Frequency, true
	case registermap.FIELD_ENERGY_IMPORT, registermap.FIELD_ENERGY_IMPORT_ALT:
		return r.TotalEnergyImportedKWh, true
	case registermap.FIELD_ENERGY_EXPORT, registermap.FIELD_ENERGY_EXPORT_ALT:
		return r.TotalEnergyExportedKWh, true
	}
	return 0, false
}

type ACMeterModbusReader interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*ACMeterInfo, error)
	GetReading() (*ACMeterReading, error)
}
