package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeStructureNotFound means an expected table, column or element is missing
	ErrorTypeStructureNotFound ErrorType = "structure_not_found"
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeConstraintViolation means a fingerprint was already persisted
	ErrorTypeConstraintViolation ErrorType = "constraint_violation"
	// ErrorTypeTransport represents notification delivery errors
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeStorage represents dedup store errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeMalformed represents a present but unparseable value
	ErrorTypeMalformed ErrorType = "malformed"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// SourceError represents an error raised while processing a source
type SourceError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether the error only affects a single record.
// Recoverable errors never abort the rest of a source's run.
func (e *SourceError) IsRecoverable() bool {
	switch e.Type {
	case ErrorTypeConstraintViolation, ErrorTypeTransport:
		return true
	default:
		return false
	}
}

// New creates a new SourceError
func New(errType ErrorType, source, message string, err error) *SourceError {
	return &SourceError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewStructureNotFound creates a new structure error
func NewStructureNotFound(source, message string) *SourceError {
	return New(ErrorTypeStructureNotFound, source, message, nil)
}

// NewNetwork creates a new network error
func NewNetwork(source, message string, err error) *SourceError {
	return New(ErrorTypeNetwork, source, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *SourceError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewConstraintViolation creates a new duplicate fingerprint error
func NewConstraintViolation(source, fingerprint string, err error) *SourceError {
	return New(ErrorTypeConstraintViolation, source, "fingerprint already exists: "+fingerprint, err)
}

// NewTransport creates a new transport error
func NewTransport(source, message string, err error) *SourceError {
	return New(ErrorTypeTransport, source, message, err)
}

// NewStorage creates a new storage error
func NewStorage(source, message string, err error) *SourceError {
	return New(ErrorTypeStorage, source, message, err)
}

// NewMalformed creates a new malformed value error
func NewMalformed(source, message string, err error) *SourceError {
	return New(ErrorTypeMalformed, source, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *SourceError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// Is reports whether any error in err's chain is a SourceError of the given type
func Is(err error, errType ErrorType) bool {
	var se *SourceError
	if !stderrors.As(err, &se) {
		return false
	}
	return se.Type == errType
}

// TypeOf returns the type of the first SourceError in err's chain, or "unknown"
func TypeOf(err error) ErrorType {
	var se *SourceError
	if !stderrors.As(err, &se) {
		return "unknown"
	}
	return se.Type
}
