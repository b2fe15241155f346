package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"null byte in worktree dir", func(c *Config) { c.Paths.WorktreeDir = "a\x00b" }, "paths.worktree_dir"},
		{"absolute state dir", func(c *Config) { c.Paths.StateDir = "/abs/state" }, "paths.state_dir"},
		{"escaping state dir", func(c *Config) { c.Paths.StateDir = "../outside" }, "paths.state_dir"},
		{"unknown branch policy", func(c *Config) { c.Worktree.BranchPolicy = "maybe" }, "worktree.branch_policy"},
		{"zero fetch timeout", func(c *Config) { c.Worktree.FetchTimeoutSeconds = 0 }, "worktree.fetch_timeout_seconds"},
		{"tiny debounce", func(c *Config) { c.Status.DebounceMs = 10 }, "status.debounce_ms"},
		{"quiet below debounce", func(c *Config) { c.Status.QuietTimeoutMs = 1000 }, "status.quiet_timeout_ms"},
		{"empty default agent", func(c *Config) { c.Agent.Default = " " }, "agent.default"},
		{"zero start timeout", func(c *Config) { c.Bridge.StartTimeoutSeconds = 0 }, "bridge.start_timeout_seconds"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := ValidationErrors(nil).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}

	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := one.Error(); got != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", got)
	}

	two := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	got := two.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "2. b: worse") {
		t.Errorf("multi Error() = %q", got)
	}
}
