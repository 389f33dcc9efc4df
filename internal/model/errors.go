package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned by a source that lacks a capability.
	ErrUnsupported = errors.New("capability not supported by source")

	// ErrOutOfOrder is returned when a bar does not advance the series.
	ErrOutOfOrder = errors.New("bar out of order")
)

// ConfigurationError reports a bad parameter. It is returned before any
// computation starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError reports a failed or lost live connection for a ticker.
type UpstreamError struct {
	Ticker   string
	Interval Interval
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Ticker, e.Interval, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
