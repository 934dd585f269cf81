package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoUsableRoot  = errors.New("no usable source root")
	ErrUnknownModel  = errors.New("unknown model")
	ErrInvalidConfig = errors.New("invalid configuration")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in field %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// ParseFailureKind classifies why a line did not yield a record.
type ParseFailureKind int

const (
	MalformedJSON ParseFailureKind = iota
	MissingRequiredField
	UnrecognizedSchema
)

func (k ParseFailureKind) String() string {
	switch k {
	case MalformedJSON:
		return "malformed_json"
	case MissingRequiredField:
		return "missing_required_field"
	case UnrecognizedSchema:
		return "unrecognized_schema"
	default:
		return "unknown"
	}
}

// ParseFailure is the non-record outcome of parsing one line.
type ParseFailure struct {
	Kind  ParseFailureKind
	Field string
	Err   error
}

func (e *ParseFailure) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// SourceReadError means a file could not be read this tick after retries.
type SourceReadError struct {
	Path     string
	SourceID string
	Attempts int
	Err      error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("failed to read %s after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports a configured root that cannot be listed.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover sources under %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// TimeInversionWarning flags a record stamped implausibly far after now.
type TimeInversionWarning struct {
	SourceID  string
	Timestamp time.Time
	Now       time.Time
}

func (w *TimeInversionWarning) Error() string {
	return fmt.Sprintf("record from %s is %s ahead of now", w.SourceID, w.Timestamp.Sub(w.Now).Round(time.Second))
}
