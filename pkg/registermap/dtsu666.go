package registermap

const (
	MAP_DTSU666       = "dtsu666"
	MAP_DTSU666_FLOAT = "dtsu666_float"
)

const (
	FIELD_VOLTAGE_L1         = "voltage_l1"
	FIELD_VOLTAGE_L2         = "voltage_l2"
	FIELD_VOLTAGE_L3         = "voltage_l3"
	FIELD_CURRENT_L1         = "current_l1"
	FIELD_CURRENT_L2         = "current_l2"
	FIELD_CURRENT_L3         = "current_l3"
	FIELD_ACTIVE_POWER_TOTAL = "active_power_total"
	FIELD_ACTIVE_POWER_L1    = "active_power_l1"
	FIELD_ACTIVE_POWER_L2    = "active_power_l2"
	FIELD_ACTIVE_POWER_L3    = "active_power_l3"
	FIELD_POWER_FACTOR       = "power_factor"
	FIELD_FREQUENCY          = "frequency"
	FIELD_ENERGY_IMPORT      = "energy_import"
	FIELD_ENERGY_EXPORT      = "energy_export"
	FIELD_ENERGY_IMPORT_ALT  = "energy_import_alt"
	FIELD_ENERGY_EXPORT_ALT  = "energy_export_alt"
)

// DTSU666 is the single phase integer layout used by Huawei DTSU666-H installs.
// Until sampled, voltages read 230 V and frequency 50 Hz; everything else reads 0.
var DTSU666 = MustNew(MAP_DTSU666, []Field{
	{Name: FIELD_VOLTAGE_L1, Address: 0x2006, Encoding: ENCODING_INT16, Scale: 10, Unit: "V", Default: 230},
	{Name: FIELD_VOLTAGE_L2, Address: 0x2008, Encoding: ENCODING_INT16, Scale: 10, Unit: "V", Default: 230},
	{Name: FIELD_VOLTAGE_L3, Address: 0x200A, Encoding: ENCODING_INT16, Scale: 10, Unit: "V", Default: 230},
	{Name: FIELD_CURRENT_L1, Address: 0x200C, Encoding: ENCODING_INT16, Scale: 1000, Unit: "A"},
	{Name: FIELD_CURRENT_L2, Address: 0x200E, Encoding: ENCODING_INT16, Scale: 1000, Unit: "A"},
	{Name: FIELD_CURRENT_L3, Address: 0x2010, Encoding: ENCODING_INT16, Scale: 1000, Unit: "A"},
	{Name: FIELD_ACTIVE_POWER_TOTAL, Address: 0x2012, Encoding: ENCODING_INT16, Scale: 10, Unit: "W"},
	{Name: FIELD_ACTIVE_POWER_L1, Address: 0x2014, Encoding: ENCODING_INT16, Scale: 10, Unit: "W"},
	{Name: FIELD_ACTIVE_POWER_L2, Address: 0x2016, Encoding: ENCODING_INT16, Scale: 10, Unit: "W"},
	{Name: FIELD_ACTIVE_POWER_L3, Address: 0x2018, Encoding: ENCODING_INT16, Scale: 10, Unit: "W"},
	{Name: FIELD_POWER_FACTOR, Address: 0x202A, Encoding: ENCODING_INT16, Scale: 1000},
	{Name: FIELD_FREQUENCY, Address: 0x2044, Encoding: ENCODING_INT16, Scale: 100, Unit: "Hz", Default: 50},
	{Name: FIELD_ENERGY_IMPORT_ALT, Address: 0x101E, Encoding: ENCODING_INT32, Scale: 1, Unit: "kWh"},
	{Name: FIELD_ENERGY_EXPORT_ALT, Address: 0x1028, Encoding: ENCODING_INT32, Scale: 1, Unit: "kWh"},
	{Name: FIELD_ENERGY_IMPORT, Address: 0x401E, Encoding: ENCODING_INT32, Scale: 1, Unit: "kWh"},
	{Name: FIELD_ENERGY_EXPORT, Address: 0x4028, Encoding: ENCODING_INT32, Scale: 1, Unit: "kWh"},
})

// DTSU666Float is the three phase layout of the Chint DTSU666 datasheet: every
// quantity is an IEEE-754 float spanning two registers, high word first.
var DTSU666Float = MustNew(MAP_DTSU666_FLOAT, []Field{
	{Name: FIELD_VOLTAGE_L1, Address: 0x2006, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "V", Default: 230},
	{Name: FIELD_VOLTAGE_L2, Address: 0x2008, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "V", Default: 230},
	{Name: FIELD_VOLTAGE_L3, Address: 0x200A, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "V", Default: 230},
	{Name: FIELD_CURRENT_L1, Address: 0x200C, Encoding: ENCODING_FLOAT32, Scale: 1000, Unit: "A"},
	{Name: FIELD_CURRENT_L2, Address: 0x200E, Encoding: ENCODING_FLOAT32, Scale: 1000, Unit: "A"},
	{Name: FIELD_CURRENT_L3, Address: 0x2010, Encoding: ENCODING_FLOAT32, Scale: 1000, Unit: "A"},
	{Name: FIELD_ACTIVE_POWER_TOTAL, Address: 0x2012, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "W"},
	{Name: FIELD_ACTIVE_POWER_L1, Address: 0x2014, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "W"},
	{Name: FIELD_ACTIVE_POWER_L2, Address: 0x2016, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "W"},
	{Name: FIELD_ACTIVE_POWER_L3, Address: 0x2018, Encoding: ENCODING_FLOAT32, Scale: 10, Unit: "W"},
	{Name: FIELD_POWER_FACTOR, Address: 0x202A, Encoding: ENCODING_FLOAT32, Scale: 1000},
	{Name: FIELD_FREQUENCY, Address: 0x2044, Encoding: ENCODING_FLOAT32, Scale: 100, Unit: "Hz", Default: 50},
	{Name: FIELD_ENERGY_IMPORT, Address: 0x401E, Encoding: ENCODING_FLOAT32, Scale: 1, Unit: "kWh"},
	{Name: FIELD_ENERGY_EXPORT, Address: 0x4028, Encoding: ENCODING_FLOAT32, Scale: 1, Unit: "kWh"},
})

// entity keys accepted by older configurations
var legacyBindingKeys = map[string]string{
	"voltage_entity":       FIELD_VOLTAGE_L1,
	"current_l1_entity":    FIELD_CURRENT_L1,
	"power_entity":         FIELD_ACTIVE_POWER_TOTAL,
	"energy_import_entity": FIELD_ENERGY_IMPORT,
	"energy_export_entity": FIELD_ENERGY_EXPORT,
	"frequency_entity":     FIELD_FREQUENCY,
}

// CanonicalName resolves legacy "*_entity" keys to field names. Other names pass through.
func CanonicalName(name string) string {
	if canonical, ok := legacyBindingKeys[name]; ok {
		return canonical
	}
	return name
}

func Builtin(name string) (*Map, bool) {
	switch name {
	case MAP_DTSU666:
		return DTSU666, true
	case MAP_DTSU666_FLOAT:
		return DTSU666Float, true
	}
	return nil, false
}
