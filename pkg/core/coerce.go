package core

import (
	"math"
	"strconv"
	"strings"
)

// Numeric coercion helpers for the canonical schema. Unparsable or missing
// values coerce to nil (a null cell), never to an error: a bad value in one
// row must not abort its batch.

// ToFloat64 parses s as a float, returning nil for empty, "null"/"NA" and
// unparsable or non-finite values.
func ToFloat64(s string) *float64 {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ToInt32 parses s as an integer, accepting float renderings of whole
// numbers (MSstats emits charges like "2.0").
func ToInt32(s string) *int32 {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		v := int32(i)
		return &v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	v := int32(f)
	return &v
}

// ToString returns nil for missing markers, otherwise a pointer to the
// trimmed value.
func ToString(s string) *string {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return nil
	}
	return &s
}

func isMissing(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "na", "nan", "none":
		return true
	}
	return false
}
