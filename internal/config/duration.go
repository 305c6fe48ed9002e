package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration reads a non-negative Go duration. Empty or zero yields def.
func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ConfigError{Field: field, Reason: fmt.Sprintf("invalid duration %q", raw)}
	}
	if d < 0 {
		return 0, &ConfigError{Field: field, Reason: "duration must be >= 0"}
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
