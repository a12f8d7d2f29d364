package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
)

const (
	STATE_UNKNOWN     = "unknown"
	STATE_UNAVAILABLE = "unavailable"
	STATE_NONE        = "none"
)

// Classify turns a raw provider state into a number. Absent states, the unknown and
// unavailable markers, unparseable text and non-finite numbers are all invalid.
func Classify(raw domain.RawState) (float64, bool) {
	var v float64
	switch r := raw.(type) {
	case nil:
		return 0, false
	case float64:
		v = r
	case float32:
		v = float64(r)
	case int:
		v = float64(r)
	case int16:
		v = float64(r)
	case int32:
		v = float64(r)
	case int64:
		v = float64(r)
	case uint16:
		v = float64(r)
	case uint32:
		v = float64(r)
	case uint64:
		v = float64(r)
	case json.Number:
		f, err := r.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		s := strings.TrimSpace(r)
		switch strings.ToLower(s) {
		case "", STATE_UNKNOWN, STATE_UNAVAILABLE, STATE_NONE:
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	case []byte:
		return Classify(string(r))
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
