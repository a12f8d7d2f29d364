package registermap

import (
	"fmt"
	"slices"
)

// Map is an immutable, validated set of register fields.
type Map struct {
	name   string
	fields []Field
	byName map[string]Field
	owner  map[uint16]string
}

func New(name string, fields []Field) (*Map, error) {
	m := &Map{
		name:   name,
		fields: slices.Clone(fields),
		byName: make(map[string]Field, len(fields)),
		owner:  make(map[uint16]string),
	}
	slices.SortFunc(m.fields, func(a, b Field) int {
		return int(a.Address) - int(b.Address)
	})
	for _, f := range m.fields {
		if err := f.validate(); err != nil {
			return nil, err
		}
		if _, ok := m.byName[f.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidField, f.Name)
		}
		m.byName[f.Name] = f
		for i := uint16(0); i < f.Words(); i++ {
			addr := f.Address + i
			if other, ok := m.owner[addr]; ok {
				return nil, fmt.Errorf("%w: %s and %s share 0x%04X", ErrOverlap, other, f.Name, addr)
			}
			m.owner[addr] = f.Name
		}
	}
	return m, nil
}

// MustNew panics on an inconsistent map. Only meant for maps compiled into the binary.
func MustNew(name string, fields []Field) *Map {
	m, err := New(name, fields)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Map) Name() string {
	return m.name
}

func (m *Map) Fields() []Field {
	return slices.Clone(m.fields)
}

func (m *Map) Field(name string) (Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

func (m *Map) lookup(name string) (Field, error) {
	f, ok := m.byName[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: %s in map %s", ErrUnknownField, name, m.name)
	}
	return f, nil
}

func (m *Map) Encode(name string, raw float64) ([]uint16, error) {
	f, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return f.Encode(raw)
}

func (m *Map) Decode(name string, words []uint16) (float64, error) {
	f, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return f.Decode(words)
}

// Covers reports whether every address in [address, address+count) belongs to a field.
func (m *Map) Covers(address uint16, count uint16) bool {
	if count == 0 || uint32(address)+uint32(count) > 1<<16 {
		return false
	}
	for i := uint32(0); i < uint32(count); i++ {
		if _, ok := m.owner[uint16(uint32(address)+i)]; !ok {
			return false
		}
	}
	return true
}

// DefaultWords returns a fresh address->word table holding every field's encoded default.
func (m *Map) DefaultWords() map[uint16]uint16 {
	words := make(map[uint16]uint16, len(m.owner))
	for _, f := range m.fields {
		// defaults are finite, checked by New
		encoded, _ := f.Encode(f.Default)
		for i, w := range encoded {
			words[f.Address+uint16(i)] = w
		}
	}
	return words
}
