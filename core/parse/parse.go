package parse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeObject parses a JSON object from content. When strict unmarshaling
// fails, the content is repaired with jsonrepair and decoding is retried;
// this tolerates the almost-JSON that LLM-backed workers occasionally emit.
func DecodeObject(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("empty content")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return decoded, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(trimmed)
	if repairErr != nil {
		return nil, fmt.Errorf("content is not a JSON object and could not be repaired: %w", repairErr)
	}

	if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
		return nil, fmt.Errorf("repaired content is still not a JSON object: %w", err)
	}

	return decoded, nil
}

// String coerces a dynamic value to a string. Numbers are formatted
// compactly; nil and unsupported types report false.
func String(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case bool:
		return strconv.FormatBool(typed), true
	case json.Number:
		return typed.String(), true
	default:
		return "", false
	}
}

// Float coerces a dynamic value to a float64. It accepts Go numeric types,
// json.Number, and numeric strings; anything else yields the fallback.
func Float(value any, fallback float64) float64 {
	switch typed := value.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		if parsed, err := typed.Float64(); err == nil {
			return parsed
		}
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// NonEmptyString returns the value as a string if it coerces to a non-empty
// one after trimming.
func NonEmptyString(value any) (string, bool) {
	text, ok := String(value)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	return text, true
}
