// Package security guards the file paths goaltrack reads and writes.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside every allowed root.
var ErrOutsideRoot = errors.New("path escapes allowed roots")

// Within reports an error unless path resolves inside root. Symlinks are
// followed on the longest existing prefix of path, so a link planted inside
// root cannot point a new file somewhere else.
func Within(path, root string) error {
	canonRoot, err := canonical(root)
	if err != nil {
		return fmt.Errorf("resolve root %q: %w", root, err)
	}
	canonPath, err := canonical(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}
	rel, err := filepath.Rel(canonRoot, canonPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrOutsideRoot, path, root)
	}
	return nil
}

// WithinAny succeeds if path lies inside at least one of roots.
func WithinAny(path string, roots ...string) error {
	if len(roots) == 0 {
		return errors.New("no allowed roots")
	}
	for _, root := range roots {
		if Within(path, root) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be under one of %v", ErrOutsideRoot, path, roots)
}

// OutputPath validates a destination for plots and summaries. Only the
// working directory and the system temp directory are accepted.
func OutputPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	return WithinAny(path, cwd, os.TempDir())
}

// canonical returns the absolute path with symlinks resolved on the part
// of it that exists.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	existing, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}
