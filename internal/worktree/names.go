package worktree

import (
	"strings"
	"unicode"

	"github.com/Iron-Ham/grove/internal/errors"
)

// MaxNameLength bounds session and branch names.
const MaxNameLength = 200

// ValidateName checks that name can be used both as a directory under the
// worktrees folder and as a git branch name. It follows the rules of
// git check-ref-format --branch and additionally rejects path traversal.
func ValidateName(name string) error {
	fail := func(msg string) error {
		return errors.NewValidationError(msg).WithField("name").WithValue(name)
	}

	switch {
	case strings.TrimSpace(name) == "":
		return fail("name cannot be empty")
	case len(name) > MaxNameLength:
		return fail("name is too long")
	case strings.ContainsRune(name, 0):
		return fail("name contains a null byte")
	case name == "@":
		return fail("name cannot be '@'")
	case strings.Contains(name, ".."):
		return fail("name cannot contain '..'")
	case strings.Contains(name, "@{"):
		return fail("name cannot contain '@{'")
	case strings.Contains(name, "//"):
		return fail("name cannot contain '//'")
	case strings.HasPrefix(name, "-"):
		return fail("name cannot start with '-'")
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return fail("name cannot start or end with '/'")
	case strings.HasSuffix(name, "."):
		return fail("name cannot end with '.'")
	}

	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fail("name cannot contain whitespace or control characters")
		}
		if strings.ContainsRune(`~^:?*[\`, r) {
			return fail("name contains a character git does not allow in branch names")
		}
	}

	for _, component := range strings.Split(name, "/") {
		if strings.HasPrefix(component, ".") {
			return fail("path components cannot start with '.'")
		}
		if strings.HasSuffix(component, ".lock") {
			return fail("path components cannot end with '.lock'")
		}
	}

	return nil
}
