package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRegex = regexp.MustCompile(`^(\d+)(ms|s|m|h)$`)

// ParseDurationString converts strings like "500ms", "3s", "5m", "1h" into time.Duration.
func ParseDurationString(durationStr string) (time.Duration, error) {
	durationStr = strings.TrimSpace(durationStr)
	if durationStr == "" || durationStr == "0" {
		return 0, nil
	}

	matches := durationRegex.FindStringSubmatch(strings.ToLower(durationStr))
	if len(matches) != 3 {
		return 0, fmt.Errorf("invalid duration string format: %s. Use '500ms', '10s', '5m', '1h'", durationStr)
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration numeric value: %s", matches[1])
	}

	var durationUnit time.Duration
	switch matches[2] {
	case "ms":
		durationUnit = time.Millisecond
	case "s":
		durationUnit = time.Second
	case "m":
		durationUnit = time.Minute
	case "h":
		durationUnit = time.Hour
	default:
		return 0, fmt.Errorf("invalid duration unit: %s", matches[2])
	}

	return time.Duration(value) * durationUnit, nil
}

// DurationOr parses durationStr and falls back to def when it is empty or zero.
func DurationOr(durationStr string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationString(durationStr)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
