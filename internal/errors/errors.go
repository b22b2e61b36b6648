package errors

import "fmt"

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	for err != nil {
		if app, ok := err.(*AppError); ok && app.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Error codes
const (
	ErrCodeMalformedEvent    = "MALFORMED_EVENT"
	ErrCodeDuplicateMessage  = "DUPLICATE_MESSAGE"
	ErrCodeTransientTool     = "TRANSIENT_TOOL_ERROR"
	ErrCodeFatalTool         = "FATAL_TOOL_ERROR"
	ErrCodeReasoningTimeout  = "REASONING_TIMEOUT"
	ErrCodeMaxIterations     = "MAX_ITERATIONS_EXCEEDED"
	ErrCodeSessionCorrupt    = "SESSION_CORRUPT"
	ErrCodeSessionAcquire    = "SESSION_ACQUIRE_FAILED"
	ErrCodeTransientSend     = "TRANSIENT_SEND_ERROR"
	ErrCodeStorage           = "STORAGE_FAILED"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeReasoningProvider = "REASONING_PROVIDER_FAILED"
)
