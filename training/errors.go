package training

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNonFiniteLoss aborts the run when the loss leaves the finite range.
// Skipping the step instead would silently corrupt the adaptive loss-weight
// bucket statistics, so the condition is surfaced to the caller.
var ErrNonFiniteLoss = errors.New("loss is non-finite")

// ErrDataExhausted is returned when a finite data source runs dry and cannot
// be restarted.
var ErrDataExhausted = errors.New("data source exhausted")

// ConfigError reports every missing required field at once so a bad config
// file is fixed in one edit, not one failure per field.
type ConfigError struct {
	Missing []string
	Reasons []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", ")))
	}
	parts = append(parts, e.Reasons...)
	return "invalid config: " + strings.Join(parts, "; ")
}
