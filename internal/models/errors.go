package models

import "fmt"

// ErrorKind classifies pipeline errors within their family
type ErrorKind string

const (
	KindMalformedKey ErrorKind = "malformed-key"

	KindNotFound          ErrorKind = "not-found"
	KindCorrupt           ErrorKind = "corrupt"
	KindUnsupportedFormat ErrorKind = "unsupported-format"
	KindAmbiguousMember   ErrorKind = "ambiguous-member"
	KindMemberNotFound    ErrorKind = "member-not-found"

	KindMissingField   ErrorKind = "missing-field"
	KindTypeError      ErrorKind = "type-error"
	KindLengthMismatch ErrorKind = "length-mismatch"
	KindDateMismatch   ErrorKind = "date-mismatch"
	KindOutOfRange     ErrorKind = "out-of-range"

	KindConstraintViolation ErrorKind = "constraint-violation"
	KindConnectionLost      ErrorKind = "connection-lost"
)

// ParseError is returned when a dataset key does not follow the key grammar
type ParseError struct {
	Kind    ErrorKind
	Input   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %s: %q", e.Kind, e.Message, e.Input)
}

// IsTransient returns false as a malformed key never parses on retry
func (e *ParseError) IsTransient() bool {
	return false
}

// LoadError is returned when an input file cannot be opened or deserialized
type LoadError struct {
	Kind   ErrorKind
	Path   string
	Member string
	Err    error
}

func (e *LoadError) Error() string {
	target := e.Path
	if e.Member != "" {
		target = e.Path + ":" + e.Member
	}
	if e.Err != nil {
		return fmt.Sprintf("load error (%s): %s: %v", e.Kind, target, e.Err)
	}
	return fmt.Sprintf("load error (%s): %s", e.Kind, target)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as file contents do not change between attempts
func (e *LoadError) IsTransient() bool {
	return false
}

// ValidationError represents a data validation error
type ValidationError struct {
	Kind    ErrorKind
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (value=%s)", e.Kind, e.Message, e.Value)
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// PersistenceError is returned when a batch could not be committed.
// It aborts the whole run.
type PersistenceError struct {
	Kind       ErrorKind
	SourceFile string
	ShapeletID int
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (%s): source_file=%s shapelet_id=%d: %v",
		e.Kind, e.SourceFile, e.ShapeletID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the batch may succeed
func (e *PersistenceError) IsTransient() bool {
	return e.Kind == KindConnectionLost
}
