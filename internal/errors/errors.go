// Package errors provides the error taxonomy used across grove. It defines
// domain errors for the worktree, workflow and protocol layers, semantic
// errors for common conditions, and classification helpers.
//
// # Error Types
//
// Domain errors carry subsystem context:
//   - GitError: a git subprocess failed (worktree add/remove, fetch, branch)
//   - WorktreeBrokenError: a worktree exists on disk or in git metadata but not both
//   - WorkflowDefinitionError: a workflow template is missing or malformed
//   - ConcurrencyConflictError: a duplicate creation was already in flight
//   - ProtocolError: a bridge message could not be decoded or was out of order
//   - BranchRetainedError: the worktree was removed but the branch survived
//   - BranchExistsError: a branch exists and the caller has to decide what to do
//
// Semantic errors represent common conditions:
//   - NotFoundError, AlreadyExistsError, ValidationError, TimeoutError
//
// # Usage
//
//	err := errors.NewGitError("failed to add worktree", cause).
//		WithBranch("feature-x").
//		WithGitOutput(string(output))
//
//	var gitErr *errors.GitError
//	if errors.As(err, &gitErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers can import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrServerLocked indicates that another bridge server owns the workspace.
	ErrServerLocked = New("workspace is served by another process")
	// ErrStateCorrupted indicates that persisted state could not be decoded.
	ErrStateCorrupted = New("persisted state corrupted")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeNotFound indicates that a worktree could not be found.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
)

// Workflow-related sentinel errors
var (
	// ErrWorkflowNotFound indicates that no template with the given name exists.
	ErrWorkflowNotFound = New("workflow not found")
	// ErrNoActiveWorkflow indicates that the session is not running a workflow.
	ErrNoActiveWorkflow = New("no active workflow")
	// ErrWorkflowFinished indicates that the workflow already reached a terminal state.
	ErrWorkflowFinished = New("workflow already finished")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// GroveError is the base interface for all grove errors.
type GroveError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to show to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "kind [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// GitError represents a failed git operation. GitOutput carries the captured
// diagnostic output of the subprocess.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists)
//	err = err.WithBranch("feature-x").WithWorktree("/path/to/worktree")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	msg := e.format("git error", parts)
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorktreeBrokenError reports a worktree whose directory and git
// administrative metadata disagree.
type WorktreeBrokenError struct {
	baseError
	Worktree string
	Branch   string
	Reason   string
}

// NewWorktreeBrokenError creates a new WorktreeBrokenError.
func NewWorktreeBrokenError(path, reason string) *WorktreeBrokenError {
	return &WorktreeBrokenError{
		baseError: baseError{
			message:    reason,
			severity:   SeverityError,
			userFacing: true,
		},
		Worktree: path,
		Reason:   reason,
	}
}

// WithBranch adds a branch name to the error context.
func (e *WorktreeBrokenError) WithBranch(branch string) *WorktreeBrokenError {
	e.Branch = branch
	return e
}

// WithCause adds a cause to the error.
func (e *WorktreeBrokenError) WithCause(cause error) *WorktreeBrokenError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *WorktreeBrokenError) Error() string {
	parts := []string{fmt.Sprintf("worktree=%s", e.Worktree)}
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	return e.format("broken worktree", parts)
}

// Is checks if this error matches the target.
func (e *WorktreeBrokenError) Is(target error) bool {
	if _, ok := target.(*WorktreeBrokenError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkflowDefinitionError reports a workflow template that is missing or
// does not satisfy the template schema.
type WorkflowDefinitionError struct {
	baseError
	Workflow string
	Path     string
}

// NewWorkflowDefinitionError creates a new WorkflowDefinitionError.
func NewWorkflowDefinitionError(workflow, message string) *WorkflowDefinitionError {
	return &WorkflowDefinitionError{
		baseError: baseError{
			message:    message,
			severity:   SeverityError,
			userFacing: true,
		},
		Workflow: workflow,
	}
}

// WithPath adds the template file path to the error context.
func (e *WorkflowDefinitionError) WithPath(path string) *WorkflowDefinitionError {
	e.Path = path
	return e
}

// WithCause adds a cause to the error.
func (e *WorkflowDefinitionError) WithCause(cause error) *WorkflowDefinitionError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *WorkflowDefinitionError) Error() string {
	var parts []string
	if e.Workflow != "" {
		parts = append(parts, fmt.Sprintf("workflow=%s", e.Workflow))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("workflow error", parts)
}

// Is checks if this error matches the target.
func (e *WorkflowDefinitionError) Is(target error) bool {
	if _, ok := target.(*WorkflowDefinitionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConcurrencyConflictError reports that another operation on the same
// resource finished first, e.g. a duplicate session creation.
type ConcurrencyConflictError struct {
	baseError
	Resource string
}

// NewConcurrencyConflictError creates a new ConcurrencyConflictError.
func NewConcurrencyConflictError(resource, message string) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Resource: resource,
	}
}

// Error returns the formatted error message.
func (e *ConcurrencyConflictError) Error() string {
	var parts []string
	if e.Resource != "" {
		parts = append(parts, fmt.Sprintf("resource=%s", e.Resource))
	}
	return e.format("concurrency conflict", parts)
}

// Is checks if this error matches the target.
func (e *ConcurrencyConflictError) Is(target error) bool {
	if _, ok := target.(*ConcurrencyConflictError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProtocolError reports a malformed or out-of-order bridge message.
type ProtocolError struct {
	baseError
	Method string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithMethod adds the request method to the error context.
func (e *ProtocolError) WithMethod(method string) *ProtocolError {
	e.Method = method
	return e
}

// Error returns the formatted error message.
func (e *ProtocolError) Error() string {
	var parts []string
	if e.Method != "" {
		parts = append(parts, fmt.Sprintf("method=%s", e.Method))
	}
	return e.format("protocol error", parts)
}

// Is checks if this error matches the target.
func (e *ProtocolError) Is(target error) bool {
	if _, ok := target.(*ProtocolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BranchRetainedError reports that a worktree was removed but its branch
// could not be deleted. Callers treat it as a warning.
type BranchRetainedError struct {
	baseError
	Branch string
}

// NewBranchRetainedError creates a new BranchRetainedError.
func NewBranchRetainedError(branch string, cause error) *BranchRetainedError {
	return &BranchRetainedError{
		baseError: baseError{
			message:    "worktree removed, branch retained",
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Branch: branch,
	}
}

// Error returns the formatted error message.
func (e *BranchRetainedError) Error() string {
	return e.format("branch retained", []string{fmt.Sprintf("branch=%s", e.Branch)})
}

// Is checks if this error matches the target.
func (e *BranchRetainedError) Is(target error) bool {
	if _, ok := target.(*BranchRetainedError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BranchExistsError reports that a branch already exists and the configured
// policy asks the caller to choose between reusing and rejecting it.
type BranchExistsError struct {
	baseError
	Branch string
}

// NewBranchExistsError creates a new BranchExistsError.
func NewBranchExistsError(branch string) *BranchExistsError {
	return &BranchExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("branch '%s' already exists; choose reuse or reject", branch),
			cause:      ErrBranchExists,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Branch: branch,
	}
}

// Error returns the formatted error message.
func (e *BranchExistsError) Error() string {
	return e.message
}

// Is checks if this error matches the target.
func (e *BranchExistsError) Is(target error) bool {
	if _, ok := target.(*BranchExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "feature-x")
//	fmt.Println(err) // "session 'feature-x' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("session name cannot be empty").WithField("name")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%q", fmt.Sprint(e.Value)))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("git fetch origin main", 30*time.Second)
//	fmt.Println(err) // "timeout error: git fetch origin main (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var groveErr GroveError
	if As(err, &groveErr) {
		return groveErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    fmt.Fprintln(os.Stderr, err)
//	} else {
//	    logger.Error("internal error", "error", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var groveErr GroveError
	if As(err, &groveErr) {
		return groveErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement GroveError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var groveErr GroveError
	if As(err, &groveErr) {
		return groveErr.Severity()
	}
	return SeverityError
}

// IsWarning reports whether err is a non-fatal outcome that callers should
// surface without treating the operation as failed.
func IsWarning(err error) bool {
	var retained *BranchRetainedError
	return As(err, &retained)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
