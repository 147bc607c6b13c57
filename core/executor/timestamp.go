package executor

import (
	"strconv"
	"strings"

	"github.com/frameloom/frameloom/core/apperr"
	"github.com/frameloom/frameloom/core/parse"
)

// NormalizeTimestamp canonicalizes a frame-extraction timestamp. Accepted
// forms: a number of seconds, "HH:MM:SS", "MM:SS", and "NN%" (a percentage of
// the total duration, resolved by the worker that knows it). Clock forms are
// converted to seconds; percentages pass through unchanged.
func NormalizeTimestamp(value any) (string, error) {
	if value == nil {
		return "0", nil
	}

	if text, isString := value.(string); isString {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return "0", nil
		}

		if strings.HasSuffix(trimmed, "%") {
			percent, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "%"), 64)
			if err != nil || percent < 0 || percent > 100 {
				return "", apperr.Validation("invalid timestamp percentage %q", trimmed)
			}
			return trimmed, nil
		}

		if strings.Contains(trimmed, ":") {
			seconds, err := clockToSeconds(trimmed)
			if err != nil {
				return "", err
			}
			return formatSeconds(seconds), nil
		}
	}

	seconds := parse.Float(value, -1)
	if seconds < 0 {
		return "", apperr.Validation("invalid timestamp %v", value)
	}
	return formatSeconds(seconds), nil
}

// clockToSeconds converts "HH:MM:SS" or "MM:SS" to seconds.
func clockToSeconds(clock string) (float64, error) {
	segments := strings.Split(clock, ":")
	if len(segments) != 2 && len(segments) != 3 {
		return 0, apperr.Validation("invalid timestamp %q", clock)
	}

	total := 0.0
	for _, segment := range segments {
		segmentValue, err := strconv.ParseFloat(strings.TrimSpace(segment), 64)
		if err != nil || segmentValue < 0 {
			return 0, apperr.Validation("invalid timestamp %q", clock)
		}
		total = total*60 + segmentValue
	}
	return total, nil
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}

// timestampFromInputs reads and normalizes the timestamp slot, defaulting to
// the start of the video.
func timestampFromInputs(resolvedInputs map[string]any) (string, error) {
	rawTimestamp, present := resolvedInputs["timestamp"]
	if !present {
		return "0", nil
	}
	return NormalizeTimestamp(rawTimestamp)
}
