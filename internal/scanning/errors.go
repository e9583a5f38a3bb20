package scanning

import (
	"errors"
	"fmt"
)

// Constraint names the upload rule a ValidationError violated
type Constraint string

const (
	ConstraintSize Constraint = "size"
	ConstraintType Constraint = "type"
)

// ValidationError is returned when an upload is rejected before any processing
type ValidationError struct {
	Constraint Constraint
	MediaType  string
	Size       int64
	MaxSize    int64
}

func (e *ValidationError) Error() string {
	switch e.Constraint {
	case ConstraintSize:
		// Size is unknown when the request body was cut off mid-stream
		if e.Size <= 0 {
			return fmt.Sprintf("file is too large: the limit is %d bytes", e.MaxSize)
		}
		return fmt.Sprintf("file is too large: %d bytes exceeds the %d byte limit", e.Size, e.MaxSize)
	case ConstraintType:
		return fmt.Sprintf("unsupported file type %q", e.MediaType)
	}
	return "invalid upload"
}

// ExtractionError is returned when the OCR engine cannot read the buffer at all
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not read this image: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TransientError marks a completion failure that may succeed on retry
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("completion endpoint unavailable: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConfigurationError marks a missing or rejected completion credential. Never retried.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("completion provider misconfigured: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MalformedResponse describes a model answer that yielded no usable array.
// It is reported in scan results, never returned as an error.
type MalformedResponse struct {
	Reason string
	Raw    string
}

func (m *MalformedResponse) Error() string {
	return "malformed model response: " + m.Reason
}

// ErrScanInProgress is returned when a user already has a scan in flight
var ErrScanInProgress = errors.New("a receipt scan is already in progress for this user")

// IsTransient reports whether err is a TransientError
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
