package worktree

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/grove/internal/errors"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "feature-x", false},
		{"nested", "feature/login", false},
		{"dots inside", "v1.2-fix", false},
		{"underscore", "fix_bug_42", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"space", "my feature", true},
		{"traversal", "../escape", true},
		{"double dot inside", "a..b", true},
		{"null byte", "a\x00b", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"max length", strings.Repeat("a", MaxNameLength), false},
		{"leading dash", "-x", true},
		{"leading slash", "/x", true},
		{"trailing slash", "x/", true},
		{"double slash", "a//b", true},
		{"trailing dot", "x.", true},
		{"lock suffix", "x.lock", true},
		{"component lock suffix", "x.lock/y", true},
		{"hidden component", "a/.b", true},
		{"leading dot", ".x", true},
		{"at brace", "a@{b", true},
		{"bare at", "@", true},
		{"tilde", "a~1", true},
		{"caret", "a^", true},
		{"colon", "a:b", true},
		{"question", "a?", true},
		{"star", "a*", true},
		{"bracket", "a[", true},
		{"backslash", `a\b`, true},
		{"tab", "a\tb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				var verr *errors.ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("error type = %T, want *ValidationError", err)
				}
			}
		})
	}
}
