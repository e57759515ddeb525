// internal/game/payload.go
package game

import (
	"math"

	"github.com/tambola-live/tambola-service/internal/models"
)

// Command payloads arrive as decoded JSON, so numbers are float64 and
// everything needs checked extraction.

func intField(payload map[string]interface{}, key string) (int, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, ValidationErrorf("missing field %q", key)
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, ValidationErrorf("field %q must be an integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, ValidationErrorf("field %q must be a number", key)
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func stringSliceField(payload map[string]interface{}, key string) ([]string, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, ValidationErrorf("missing field %q", key)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, ValidationErrorf("field %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, ValidationErrorf("field %q must be a list of strings", key)
}

func prizeMapField(payload map[string]interface{}) (map[models.PrizeType]bool, error) {
	raw, ok := payload["prizes"]
	if !ok {
		return nil, ValidationErrorf("missing field \"prizes\"")
	}
	switch v := raw.(type) {
	case map[models.PrizeType]bool:
		return v, nil
	case map[string]bool:
		out := make(map[models.PrizeType]bool, len(v))
		for k, b := range v {
			out[models.PrizeType(k)] = b
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[models.PrizeType]bool, len(v))
		for k, item := range v {
			b, ok := item.(bool)
			if !ok {
				return nil, ValidationErrorf("prize flag %q must be a boolean", k)
			}
			out[models.PrizeType(k)] = b
		}
		return out, nil
	}
	return nil, ValidationErrorf("field \"prizes\" must be a map of booleans")
}
