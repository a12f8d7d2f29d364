package registermap

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type Encoding int

const (
	ENCODING_INT16 Encoding = iota
	ENCODING_INT32
	ENCODING_FLOAT32
)

type WordOrder int

const (
	HIGH_WORD_FIRST WordOrder = iota
	LOW_WORD_FIRST
)

type ByteOrder int

const (
	BIG_ENDIAN ByteOrder = iota
	LITTLE_ENDIAN
)

var (
	ErrUnknownField  = errors.New("unknown register field")
	ErrOverlap       = errors.New("overlapping register fields")
	ErrInvalidField  = errors.New("invalid register field")
	ErrNotFinite     = errors.New("value is not a finite number")
	ErrWordCount     = errors.New("word count does not match field width")
	ErrUnknownFormat = errors.New("unknown register format")
)

// Field describes where and how a logical measurement lives in the register space.
// Scale is applied before encoding and reverted after decoding. Default is served
// until a sampled value replaces it.
type Field struct {
	Name      string
	Address   uint16
	Encoding  Encoding
	WordOrder WordOrder
	ByteOrder ByteOrder
	Scale     float64
	Unit      string
	Default   float64
}

func (f Field) Words() uint16 {
	if f.Encoding == ENCODING_INT16 {
		return 1
	}
	return 2
}

// LastAddress is the address of the final word occupied by the field.
func (f Field) LastAddress() uint32 {
	return uint32(f.Address) + uint32(f.Words()) - 1
}

func (f Field) validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty name at 0x%04X", ErrInvalidField, f.Address)
	}
	if f.Scale == 0 || math.IsNaN(f.Scale) || math.IsInf(f.Scale, 0) {
		return fmt.Errorf("%w: %s has scale %v", ErrInvalidField, f.Name, f.Scale)
	}
	if math.IsNaN(f.Default) || math.IsInf(f.Default, 0) {
		return fmt.Errorf("%w: %s has default %v", ErrInvalidField, f.Name, f.Default)
	}
	if f.Encoding < ENCODING_INT16 || f.Encoding > ENCODING_FLOAT32 {
		return fmt.Errorf("%w: %s has encoding %d", ErrInvalidField, f.Name, f.Encoding)
	}
	if f.LastAddress() > math.MaxUint16 {
		return fmt.Errorf("%w: %s exceeds the register space", ErrInvalidField, f.Name)
	}
	return nil
}

// Encode scales raw and turns it into register words. Integer encodings round to the
// nearest integer and saturate at the type bounds instead of wrapping.
func (f Field) Encode(raw float64) ([]uint16, error) {
	if math.IsNaN(raw) {
		return nil, fmt.Errorf("%w: %s", ErrNotFinite, f.Name)
	}
	scaled := raw * f.Scale
	switch f.Encoding {
	case ENCODING_INT16:
		v := clamp(math.Round(scaled), math.MinInt16, math.MaxInt16)
		return []uint16{f.swapBytes(uint16(int16(v)))}, nil
	case ENCODING_INT32:
		v := clamp(math.Round(scaled), math.MinInt32, math.MaxInt32)
		return f.splitWords(uint32(int32(v))), nil
	case ENCODING_FLOAT32:
		return f.splitWords(math.Float32bits(float32(scaled))), nil
	}
	return nil, fmt.Errorf("%w: %s has encoding %d", ErrInvalidField, f.Name, f.Encoding)
}

func (f Field) Decode(words []uint16) (float64, error) {
	if len(words) != int(f.Words()) {
		return 0, fmt.Errorf("%w: %s expects %d, got %d", ErrWordCount, f.Name, f.Words(), len(words))
	}
	switch f.Encoding {
	case ENCODING_INT16:
		return float64(int16(f.swapBytes(words[0]))) / f.Scale, nil
	case ENCODING_INT32:
		return float64(int32(f.joinWords(words))) / f.Scale, nil
	case ENCODING_FLOAT32:
		return float64(math.Float32frombits(f.joinWords(words))) / f.Scale, nil
	}
	return 0, fmt.Errorf("%w: %s has encoding %d", ErrInvalidField, f.Name, f.Encoding)
}

func (f Field) splitWords(v uint32) []uint16 {
	hi := f.swapBytes(uint16(v >> 16))
	lo := f.swapBytes(uint16(v))
	if f.WordOrder == LOW_WORD_FIRST {
		return []uint16{lo, hi}
	}
	return []uint16{hi, lo}
}

func (f Field) joinWords(words []uint16) uint32 {
	hi, lo := words[0], words[1]
	if f.WordOrder == LOW_WORD_FIRST {
		hi, lo = lo, hi
	}
	return uint32(f.swapBytes(hi))<<16 | uint32(f.swapBytes(lo))
}

func (f Field) swapBytes(w uint16) uint16 {
	if f.ByteOrder == LITTLE_ENDIAN {
		return w<<8 | w>>8
	}
	return w
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "int16", "":
		return ENCODING_INT16, nil
	case "int32":
		return ENCODING_INT32, nil
	case "float32", "float":
		return ENCODING_FLOAT32, nil
	}
	return 0, fmt.Errorf("%w: encoding %q", ErrUnknownFormat, s)
}

func ParseWordOrder(s string) (WordOrder, error) {
	switch strings.ToLower(s) {
	case "high_word_first", "":
		return HIGH_WORD_FIRST, nil
	case "low_word_first":
		return LOW_WORD_FIRST, nil
	}
	return 0, fmt.Errorf("%w: word order %q", ErrUnknownFormat, s)
}

func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "big_endian", "":
		return BIG_ENDIAN, nil
	case "little_endian":
		return LITTLE_ENDIAN, nil
	}
	return 0, fmt.Errorf("%w: byte order %q", ErrUnknownFormat, s)
}

func (e Encoding) String() string {
	switch e {
	case ENCODING_INT16:
		return "int16"
	case ENCODING_INT32:
		return "int32"
	case ENCODING_FLOAT32:
		return "float32"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}
