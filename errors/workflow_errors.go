package errors

import (
	"errors"
	"fmt"
)

// Store and collaborator sentinels. Adapters translate driver errors into these.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("document update conflict")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotImplemented = errors.New("not implemented")
)

// WorkflowError is a validation or policy failure. It is never retried
// automatically; workflows surface it on the document's error field.
type WorkflowError struct {
	Code        string `json:"error"`
	Description string `json:"reason,omitempty"`
}

func (e *WorkflowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches any WorkflowError with the same code.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Workflow error codes
const (
	TokenUsed           = "token_used"
	NoMatchingDevice    = "no_matching_device"
	DeviceNotConfirming = "device_not_confirming"
	Unsupported         = "unsupported"
	InvalidRequest      = "invalid_request"
)

// Code targets for errors.Is.
var (
	ErrTokenUsed           = &WorkflowError{Code: TokenUsed}
	ErrNoMatchingDevice    = &WorkflowError{Code: NoMatchingDevice}
	ErrDeviceNotConfirming = &WorkflowError{Code: DeviceNotConfirming}
	ErrUnsupported         = &WorkflowError{Code: Unsupported}
)

func NewTokenUsed(deviceID string) *WorkflowError {
	return &WorkflowError{
		Code:        TokenUsed,
		Description: "device_id " + deviceID,
	}
}

func NewNoMatchingDevice() *WorkflowError {
	return &WorkflowError{
		Code:        NoMatchingDevice,
		Description: "no matching device",
	}
}

func NewDeviceNotConfirming(deviceID, state string) *WorkflowError {
	return &WorkflowError{
		Code:        DeviceNotConfirming,
		Description: fmt.Sprintf("device %s is %s", deviceID, state),
	}
}

func NewUnsupported(description string) *WorkflowError {
	return &WorkflowError{
		Code:        Unsupported,
		Description: description,
	}
}

func NewInvalidRequest(description string) *WorkflowError {
	return &WorkflowError{
		Code:        InvalidRequest,
		Description: description,
	}
}

// StepError names the step of a multi-step handler that failed.
type StepError struct {
	Workflow string
	Step     string
	DocID    string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s/%s %s: %v", e.Workflow, e.Step, e.DocID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Step wraps err with its step name. A nil err stays nil.
func Step(workflow, step, docID string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Workflow: workflow, Step: step, DocID: docID, Err: err}
}

// IsRetryable reports whether a handler failure may converge on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Code extracts a short classification for logs and metrics.
func Code(err error) string {
	var we *WorkflowError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &we):
		return we.Code
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	default:
		return "dependency"
	}
}
