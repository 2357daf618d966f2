package datasource

import "strconv"

// IntSetting reads a numeric setting decoded from YAML (int) or JSON (float64).
// Numeric strings, as produced by environment substitution, are accepted too.
func IntSetting(settings map[string]any, key string) (int, bool) {
	switch v := settings[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// StringSetting reads a string setting.
func StringSetting(settings map[string]any, key string) (string, bool) {
	s, ok := settings[key].(string)
	return s, ok && s != ""
}

// BoolSetting reads a boolean setting, accepting "true"/"false" strings.
func BoolSetting(settings map[string]any, key string) (bool, bool) {
	switch v := settings[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}
