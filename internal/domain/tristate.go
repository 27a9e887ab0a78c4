package domain

import "strings"

// ConfigValue is the tri-state coercion of a group configuration string:
// "true"/"1" become true, "false"/"0" become false, the empty string becomes
// null, and anything else stays a string.
type ConfigValue struct {
	raw  string
	null bool
}

// CoerceConfig applies tri-state coercion to a raw configuration string.
func CoerceConfig(raw string) ConfigValue {
	trimmed := strings.TrimSpace(raw)
	return ConfigValue{raw: trimmed, null: trimmed == ""}
}

// IsNull reports whether the value coerces to null.
func (v ConfigValue) IsNull() bool {
	return v.null
}

// Bool returns the boolean coercion and whether one applies.
func (v ConfigValue) Bool() (value bool, ok bool) {
	switch strings.ToLower(v.raw) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// Truthy reports whether the value coerces to boolean true.
func (v ConfigValue) Truthy() bool {
	value, ok := v.Bool()
	return ok && value
}

// String returns the raw string form.
func (v ConfigValue) String() string {
	return v.raw
}

// Int returns the integer coercion, or fallback when none applies.
func (v ConfigValue) Int(fallback int64) int64 {
	if v.null {
		return fallback
	}
	var n int64
	for _, r := range v.raw {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
