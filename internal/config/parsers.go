package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first of candidates present in settings. Viper
// lowercases keys, so each candidate is also tried in lower case.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	if s, ok := value.(fmt.Stringer); ok {
		return s.String(), nil
	}
	if s, err := cast.ToStringE(value); err == nil {
		return s, nil
	}
	return fmt.Sprint(value), nil
}

// blank reports whether value is an empty or whitespace-only string.
func blank(value interface{}) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asInt(value interface{}) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToIntE(value)
}

func asFloat64(value interface{}) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToFloat64E(value)
}

func asBool(value interface{}) (bool, error) {
	if blank(value) {
		return false, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToBoolE(value)
}

// asDuration parses duration strings like "30s". Bare numbers are seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		return time.ParseDuration(strings.TrimSpace(v))
	}
	secs, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs) * time.Second, nil
}

// asStringMap reads a header map from a config file mapping or from an
// environment string of comma separated key=value pairs.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		result := map[string]string{}
		for _, entry := range strings.Split(s, ",") {
			if strings.TrimSpace(entry) == "" {
				continue
			}
			key, val, err := parseHeader(entry)
			if err != nil {
				return nil, err
			}
			result[key] = val
		}
		return result, nil
	}

	result, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}
	for key := range result {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
	}
	return result, nil
}

// toStringKeyMap returns a nested section with lowercased keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	switch value.(type) {
	case map[string]interface{}, map[interface{}]interface{}:
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	raw, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(raw))
	for key, val := range raw {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}
