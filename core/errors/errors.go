// Package errors provides standardized error types for the card codec engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")
	// ErrTooLarge indicates an input exceeded a configured size limit
	ErrTooLarge = errors.New("too large")
	// ErrUndetected indicates no container format or card spec could be recognized
	ErrUndetected = errors.New("format not detected")
)

// DetectError is returned when no container format or card spec can be
// recognized in the input. It is always user-facing and never wraps a
// generic panic or parse failure.
type DetectError struct {
	Stage  string // "container" or "spec"
	Detail string // what was tried, for the user
}

func (e *DetectError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unable to detect %s format: %s", e.Stage, e.Detail)
	}
	return fmt.Sprintf("unable to detect %s format", e.Stage)
}

func (e *DetectError) Unwrap() error { return ErrUndetected }

// ParseError represents a container parsing failure. NotThisFormat
// distinguishes "these bytes are not this format at all" (the caller may
// fall through to another format guess) from "this format, but corrupt"
// (fatal for the operation).
type ParseError struct {
	Format        string // format being parsed (e.g., "PNG", "ZIP", "CHARX manifest")
	Message       string
	NotThisFormat bool
	Err           error
}

func (e *ParseError) Error() string {
	if e.NotThisFormat {
		return fmt.Sprintf("not a %s: %s", e.Format, e.Message)
	}
	return fmt.Sprintf("corrupt %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// SizeError is returned when an input exceeds a configured hard size
// ceiling. Warnings collected before the ceiling was hit travel with it.
type SizeError struct {
	Resource string // e.g., "PNG", "ZIP archive", "ZIP entry"
	Actual   int64
	Limit    int64
	Warnings []string
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s size %d exceeds limit %d", e.Resource, e.Actual, e.Limit)
}

func (e *SizeError) Unwrap() error { return ErrTooLarge }

// ValidationError carries the structured findings that blocked an
// import or export. Only findings with blocking severity are included.
type ValidationError struct {
	Findings []string
}

func (e *ValidationError) Error() string {
	if len(e.Findings) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Findings, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // type of resource (e.g., "asset blob", "manifest entry")
	ID       string // identifier of the resource
	Err      error  // underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// UnsupportedError represents an unsupported feature or format
type UnsupportedError struct {
	Feature string // feature or format that is unsupported
	Reason  string // why it's not supported
	Err     error  // underlying error, if any
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// Helper functions for creating common errors

// NewDetect creates a DetectError
func NewDetect(stage, detail string) *DetectError {
	return &DetectError{Stage: stage, Detail: detail}
}

// NewParse creates a fatal ParseError for the given format
func NewParse(format, message string) *ParseError {
	return &ParseError{Format: format, Message: message}
}

// NewNotThisFormat creates a ParseError eligible for format fallback
func NewNotThisFormat(format, message string) *ParseError {
	return &ParseError{Format: format, Message: message, NotThisFormat: true}
}

// NewSize creates a SizeError
func NewSize(resource string, actual, limit int64, warnings []string) *SizeError {
	return &SizeError{Resource: resource, Actual: actual, Limit: limit, Warnings: warnings}
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{Feature: feature, Reason: reason}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsFormatFallback reports whether err permits falling through to the
// next container format guess rather than aborting.
func IsFormatFallback(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.NotThisFormat
	}
	return errors.Is(err, ErrNotFound)
}
