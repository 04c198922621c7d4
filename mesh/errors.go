package mesh

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when finalization is attempted without any accumulated samples.
	ErrEmptyInput = errors.New("no sonar samples accumulated")

	// ErrIncompletePose is returned when a frame is transformed with a pose that is not complete.
	ErrIncompletePose = errors.New("pose is incomplete")

	// ErrGridTooLarge is returned when the raster would exceed the cell limit.
	ErrGridTooLarge = errors.New("raster grid too large")

	// ErrOutsideZone is returned for a fix outside the UTM zone or hemisphere the session is locked to.
	ErrOutsideZone = errors.New("fix outside session UTM zone")

	// ErrInvalidConfig matches every *ConfigError via errors.Is.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigError describes a configuration value rejected before processing starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) true for any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
