package config

import (
	"strings"
	"time"
)

// Config wraps a decoded configuration document for typed lookups.
// All accessor methods return the default if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup resolves a dotted key through nested maps.
func (c Config) lookup(key string) (any, bool) {
	if v, ok := c.data[key]; ok {
		return v, true
	}
	var cur any = c.data
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// asMap accepts both map shapes produced by the YAML and JSON decoders.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

// Section returns the nested section at key, or an empty Config.
func (c Config) Section(key string) Config {
	v, ok := c.lookup(key)
	if !ok {
		return New(nil)
	}
	m, ok := asMap(v)
	if !ok {
		return New(nil)
	}
	return New(m)
}

// Has reports whether key resolves to a value.
func (c Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// String returns the string at key, or defaultVal.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.value(key).(string); ok {
		return s
	}
	return defaultVal
}

func (c Config) value(key string) any {
	v, _ := c.lookup(key)
	return v
}

// Bool returns the bool at key, or defaultVal.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.value(key).(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer at key, or defaultVal. Floats are accepted only
// when they have no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	switch v := c.value(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// Float returns the number at key, or defaultVal.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch v := c.value(key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultVal
}

// Duration returns the duration at key, or defaultVal.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := c.value(key).(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	}
	return defaultVal
}

// StringSlice returns the string list at key, or defaultVal. A list with
// any non-string element yields defaultVal.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch v := c.value(key).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			out = append(out, s)
		}
		return out
	}
	return defaultVal
}
