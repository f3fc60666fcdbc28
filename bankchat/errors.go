package bankchat

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across package boundaries. Everything except
// ConfigError is absorbed at the stage or tool boundary and converted into a
// degraded-but-valid result; only configuration problems may stop the
// process, and only at startup.
var (
	// ErrUnknownTool is returned by the tool layer for an unregistered tool id.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMissingSlot is returned when a required tool slot was not extracted.
	ErrMissingSlot = errors.New("missing required slot")

	// ErrSessionNotFound is returned by the session store for an unseen id.
	ErrSessionNotFound = errors.New("session not found")
)

// ConfigError reports malformed or missing configuration discovered at load
// time. It is the only error kind allowed to abort process start.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a ConfigError for the given source path.
func NewConfigError(path, reason string, err error) *ConfigError {
	return &ConfigError{Path: path, Reason: reason, Err: err}
}

// ParseError reports a model reply that was not in the stage's expected
// JSON shape. Parse failures are never retried against the same reply; the
// executor degrades to the stage's fallback result instead.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stage %s: unparseable model reply: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StageCallError reports a transient provider failure for one stage attempt.
// The executor retries these up to the stage's configured budget.
type StageCallError struct {
	Stage   string
	Attempt int
	Err     error
}

func (e *StageCallError) Error() string {
	return fmt.Sprintf("stage %s: call attempt %d failed: %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageCallError) Unwrap() error { return e.Err }
