package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "status.debounce_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateWorktree()...)
	errors = append(errors, c.validateStatus()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateBridge()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	paths := []struct{ field, value string }{
		{"paths.worktree_dir", c.Paths.WorktreeDir},
		{"paths.state_dir", c.Paths.StateDir},
	}
	for _, p := range paths {
		if strings.ContainsRune(p.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "contains invalid null character",
			})
		}
	}

	// The state dir is repo-relative so that its ignore file applies.
	if c.Paths.StateDir != "" && filepath.IsAbs(c.Paths.StateDir) {
		errors = append(errors, ValidationError{
			Field:   "paths.state_dir",
			Value:   c.Paths.StateDir,
			Message: "must be relative to the repository root",
		})
	}
	if c.Paths.StateDir != "" && strings.HasPrefix(filepath.Clean(c.Paths.StateDir), "..") {
		errors = append(errors, ValidationError{
			Field:   "paths.state_dir",
			Value:   c.Paths.StateDir,
			Message: "must stay inside the repository",
		})
	}

	return errors
}

func (c *Config) validateWorktree() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBranchPolicies(), c.Worktree.BranchPolicy) {
		errors = append(errors, ValidationError{
			Field:   "worktree.branch_policy",
			Value:   c.Worktree.BranchPolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBranchPolicies(), ", ")),
		})
	}

	if c.Worktree.FetchTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worktree.fetch_timeout_seconds",
			Value:   c.Worktree.FetchTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateStatus() []ValidationError {
	var errors []ValidationError

	if c.Status.DebounceMs < 100 {
		errors = append(errors, ValidationError{
			Field:   "status.debounce_ms",
			Value:   c.Status.DebounceMs,
			Message: "must be at least 100",
		})
	}

	if c.Status.QuietTimeoutMs <= c.Status.DebounceMs {
		errors = append(errors, ValidationError{
			Field:   "status.quiet_timeout_ms",
			Value:   c.Status.QuietTimeoutMs,
			Message: "must be greater than status.debounce_ms",
		})
	}

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Agent.Default) == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.default",
			Value:   c.Agent.Default,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateBridge() []ValidationError {
	var errors []ValidationError

	if c.Bridge.StartTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bridge.start_timeout_seconds",
			Value:   c.Bridge.StartTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 1 and %d", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
