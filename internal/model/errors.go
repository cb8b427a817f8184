package model

import (
	"errors"
)

var (
	ErrToolUnavailable    = errors.New("tool not available")
	ErrExecutableNotFound = errors.New("executable not found")
	ErrProcessTimeout     = errors.New("process timeout")
	ErrProcessError       = errors.New("process error")
	ErrParseWarning       = errors.New("parse warning")
	ErrInvalidRequest     = errors.New("invalid request")
)

// Kind returns the taxonomy name of err, or an empty string for nil
// and for errors outside of the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolUnavailable):
		return "ToolUnavailable"
	case errors.Is(err, ErrExecutableNotFound):
		return "ExecutableNotFound"
	case errors.Is(err, ErrProcessTimeout):
		return "ProcessTimeout"
	case errors.Is(err, ErrProcessError):
		return "ProcessError"
	case errors.Is(err, ErrParseWarning):
		return "ParseWarning"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	default:
		return ""
	}
}
