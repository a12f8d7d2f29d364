package registermap

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type fileMap struct {
	Name   string      `yaml:"name"`
	Fields []fileField `yaml:"fields"`
}

type fileField struct {
	Name      string   `yaml:"name"`
	Address   uint16   `yaml:"address"`
	Encoding  string   `yaml:"encoding"`
	WordOrder string   `yaml:"word_order"`
	ByteOrder string   `yaml:"byte_order"`
	Scale     *float64 `yaml:"scale"`
	Unit      string   `yaml:"unit"`
	Default   float64  `yaml:"default"`
}

// Load returns a built-in map by name, otherwise reads a YAML map file at that path.
func Load(nameOrPath string) (*Map, error) {
	if m, ok := Builtin(nameOrPath); ok {
		return m, nil
	}
	f, err := os.Open(nameOrPath)
	if err != nil {
		return nil, fmt.Errorf("register map %q: %w", nameOrPath, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML register map:
//
//	name: my_meter
//	fields:
//	  - name: voltage_l1
//	    address: 0x2006
//	    encoding: int16
//	    scale: 10
//	    default: 230
func Parse(r io.Reader) (*Map, error) {
	var doc fileMap
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("register map: %w", err)
	}
	if doc.Name == "" {
		doc.Name = "custom"
	}
	fields := make([]Field, 0, len(doc.Fields))
	for _, ff := range doc.Fields {
		field, err := ff.toField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return New(doc.Name, fields)
}

func (ff fileField) toField() (Field, error) {
	enc, err := ParseEncoding(ff.Encoding)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", ff.Name, err)
	}
	wo, err := ParseWordOrder(ff.WordOrder)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", ff.Name, err)
	}
	bo, err := ParseByteOrder(ff.ByteOrder)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", ff.Name, err)
	}
	scale := 1.0
	if ff.Scale != nil {
		scale = *ff.Scale
	}
	return Field{
		Name:      ff.Name,
		Address:   ff.Address,
		Encoding:  enc,
		WordOrder: wo,
		ByteOrder: bo,
		Scale:     scale,
		Unit:      ff.Unit,
		Default:   ff.Default,
	}, nil
}
