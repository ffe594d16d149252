package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for better error classification and handling

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeProcess     ErrorType = "process"
	ErrorTypeHealthCheck ErrorType = "health_check"
	ErrorTypePermission  ErrorType = "permission"
	ErrorTypeIO          ErrorType = "io"
	ErrorTypeInternal    ErrorType = "internal"

	// Daemon control taxonomy
	ErrorTypeConfiguration     ErrorType = "configuration"
	ErrorTypeCorruptPIDFile    ErrorType = "corrupt_pid_file"
	ErrorTypeCommandExecution  ErrorType = "command_execution"
	ErrorTypeCommandFailed     ErrorType = "command_failed"
	ErrorTypeStartTimeout      ErrorType = "start_timeout"
	ErrorTypeStopTimeout       ErrorType = "stop_timeout"
	ErrorTypeReloadTimeout     ErrorType = "reload_timeout"
	ErrorTypeUnsupportedAction ErrorType = "unsupported_action"
)

// Well-known context keys
const (
	ContextExitCode = "exit_code"
	ContextOutput   = "output"
	ContextLogDelta = "log_delta"
	ContextPID      = "pid"
	ContextPIDFile  = "pid_file"
	ContextAction   = "action"
)

// MaxRenderedLogDelta bounds how much of a log delta Error() prints. The
// full delta stays available through LogDelta.
const MaxRenderedLogDelta = 64 * 1024

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if code, ok := e.Context[ContextExitCode]; ok {
		fmt.Fprintf(&b, " (exit code %v)", code)
	}
	if out, ok := e.Context[ContextOutput].(string); ok && strings.TrimSpace(out) != "" {
		fmt.Fprintf(&b, "\noutput:\n%s", strings.TrimRight(out, "\n"))
	}
	if delta, ok := e.Context[ContextLogDelta].(string); ok && strings.TrimSpace(delta) != "" {
		fmt.Fprintf(&b, "\nlog:\n%s", renderTail(strings.TrimRight(delta, "\n"), MaxRenderedLogDelta))
	}
	return b.String()
}

// renderTail keeps the last limit bytes of s, where a failure usually shows
func renderTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("[... %d bytes omitted ...]\n%s", len(s)-limit, s[len(s)-limit:])
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithLogDelta attaches newly appended log content, if any
func (e *DomainError) WithLogDelta(delta string) *DomainError {
	if delta == "" {
		return e
	}
	return e.WithContext(ContextLogDelta, delta)
}

// AttachLogDelta adds delta to err when it is a DomainError; other errors
// are returned unchanged.
func AttachLogDelta(err error, delta string) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		domainErr.WithLogDelta(delta)
	}
	return err
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewHealthCheckError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHealthCheck, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// NewConfigurationError reports invalid construction input. Fatal at construction.
func NewConfigurationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, cause)
}

func NewCorruptPIDFileError(pidFile string, content string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCorruptPIDFile, "pid file does not contain a positive integer", cause).
		WithContext(ContextPIDFile, pidFile).
		WithContext("content", content)
}

// NewCommandExecutionError reports a command that could not be launched at all.
func NewCommandExecutionError(command string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCommandExecution, "failed to launch command: "+command, cause)
}

// NewCommandFailedError reports a command that ran and exited non-zero.
func NewCommandFailedError(command string, exitCode int, output string) *DomainError {
	return NewDomainError(ErrorTypeCommandFailed, "command failed: "+command, nil).
		WithContext(ContextExitCode, exitCode).
		WithContext(ContextOutput, output)
}

func NewStartTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStartTimeout, message, cause)
}

func NewStopTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeStopTimeout, message, cause)
}

func NewReloadTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeReloadTimeout, message, cause)
}

func NewUnsupportedActionError(adapter string, action string) *DomainError {
	return NewDomainError(ErrorTypeUnsupportedAction, fmt.Sprintf("%s does not support action %q", adapter, action), nil).
		WithContext(ContextAction, action)
}

// Error checking helpers

// hasType matches any DomainError in the chain, not only the outermost
func hasType(err error, t ErrorType) bool {
	return errors.Is(err, &DomainError{Type: t})
}

func IsValidationError(err error) bool  { return hasType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool    { return hasType(err, ErrorTypeNotFound) }
func IsProcessError(err error) bool     { return hasType(err, ErrorTypeProcess) }
func IsHealthCheckError(err error) bool { return hasType(err, ErrorTypeHealthCheck) }
func IsPermissionError(err error) bool  { return hasType(err, ErrorTypePermission) }
func IsIOError(err error) bool          { return hasType(err, ErrorTypeIO) }
func IsInternalError(err error) bool    { return hasType(err, ErrorTypeInternal) }

func IsConfigurationError(err error) bool     { return hasType(err, ErrorTypeConfiguration) }
func IsCorruptPIDFileError(err error) bool    { return hasType(err, ErrorTypeCorruptPIDFile) }
func IsCommandExecutionError(err error) bool  { return hasType(err, ErrorTypeCommandExecution) }
func IsCommandFailedError(err error) bool     { return hasType(err, ErrorTypeCommandFailed) }
func IsStartTimeoutError(err error) bool      { return hasType(err, ErrorTypeStartTimeout) }
func IsStopTimeoutError(err error) bool       { return hasType(err, ErrorTypeStopTimeout) }
func IsReloadTimeoutError(err error) bool     { return hasType(err, ErrorTypeReloadTimeout) }
func IsUnsupportedActionError(err error) bool { return hasType(err, ErrorTypeUnsupportedAction) }

// IsTimeoutError reports any of the bounded-poll expiries
func IsTimeoutError(err error) bool {
	return IsStartTimeoutError(err) || IsStopTimeoutError(err) || IsReloadTimeoutError(err)
}

// TypeOf returns the domain error type, or "" when err is not a DomainError
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// ExitCode returns the captured exit code of a CommandFailed error.
func ExitCode(err error) (int, bool) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return 0, false
	}
	code, ok := domainErr.Context[ContextExitCode].(int)
	return code, ok
}

// Output returns the captured command output of a CommandFailed error.
func Output(err error) string {
	return contextString(err, ContextOutput)
}

// LogDelta returns the log content appended during the failed operation.
func LogDelta(err error) string {
	return contextString(err, ContextLogDelta)
}

func contextString(err error, key string) string {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return ""
	}
	s, _ := domainErr.Context[key].(string)
	return s
}
