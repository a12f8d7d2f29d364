package domain

import (
	"time"
)

// RawState is a provider state as reported: nil when absent, otherwise a string or a number.
type RawState any

// ValueBinding attaches a register field to a provider reference such as "mqtt:meter/voltage".
type ValueBinding struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
}

type SampledValue struct {
	Name      string   `json:"name"`
	Reference string   `json:"reference"`
	Raw       RawState `json:"state"`
	Value     float64  `json:"value"`
	Valid     bool     `json:"valid"`
	Address   uint16   `json:"register"`
}

// RegisterSnapshot is never mutated after publication.
type RegisterSnapshot struct {
	Words     map[uint16]uint16
	Valid     bool
	Values    []SampledValue
	Timestamp time.Time
}

func (s *RegisterSnapshot) ValidCount() int {
	n := 0
	for _, v := range s.Values {
		if v.Valid {
			n++
		}
	}
	return n
}

type ServerConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	UnitId            uint8  `json:"unit_id"`
	ValidationEnabled bool   `json:"validation_enabled"`
}

const (
	STATUS_RUNNING      = "running"
	STATUS_INVALID_DATA = "invalid_data"
	STATUS_STOPPED      = "stopped"
)

type Status struct {
	State             string         `json:"state"`
	Version           string         `json:"version"`
	RegisterMap       string         `json:"register_map"`
	Port              int            `json:"port"`
	UnitId            uint8          `json:"unit_id"`
	ValidationEnabled bool           `json:"validation_enabled"`
	DataValid         bool           `json:"data_valid"`
	Connections       int            `json:"connections"`
	Bindings          int            `json:"entity_mappings"`
	ValidEntities     string         `json:"valid_entities"`
	Values            []SampledValue `json:"entities"`
	LastSample        time.Time      `json:"last_sample"`
}
