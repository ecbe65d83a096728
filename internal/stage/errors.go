package stage

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a missing or misrouted external resource.
	ErrConfiguration = errors.New("configuration error")
	// ErrSpecDefect marks a stage that was scheduled without its inputs; it
	// always indicates a registry or resolver bug.
	ErrSpecDefect = errors.New("stage spec defect")
	// ErrStageExecution marks a failure inside an external stage.
	ErrStageExecution = errors.New("stage execution failed")
)

// Error carries the failing stage and context key, when known, alongside
// one of the sentinel kinds above.
type Error struct {
	Kind  error
	Stage ID
	// HasStage is false for errors raised before any stage was selected.
	HasStage bool
	Key      string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.HasStage {
		msg += ": stage " + e.Stage.String()
	}
	if e.Key != "" {
		msg += fmt.Sprintf(": key %q", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ConfigError returns an ErrConfiguration error not tied to a stage.
func ConfigError(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}

func stageConfigError(id ID, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Stage: id, HasStage: true, Err: fmt.Errorf(format, args...)}
}

func specDefect(id ID, key string, format string, args ...any) error {
	return &Error{Kind: ErrSpecDefect, Stage: id, HasStage: true, Key: key, Err: fmt.Errorf(format, args...)}
}

func executionError(id ID, err error) error {
	return &Error{Kind: ErrStageExecution, Stage: id, HasStage: true, Err: err}
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (ID, bool) {
	var se *Error
	if errors.As(err, &se) && se.HasStage {
		return se.Stage, true
	}
	return 0, false
}
