// Package security guards the paths the pipeline writes to.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// canonicalPath resolves path to an absolute path with symlinks evaluated.
// For a path that does not exist yet, the deepest existing ancestor is
// resolved and the remainder appended, so a symlinked parent cannot hide an
// escape.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory returns an error unless filePath, after
// cleaning and symlink resolution, lies inside safeDir. safeDir must exist.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	target, err := canonicalPath(filePath)
	if err != nil {
		return err
	}
	absRoot, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	root, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// SanitizeFilename turns an arbitrary identifier, such as a granule key,
// into a single path element. Runs of characters other than ASCII letters,
// digits, '.', '_' and '-' become one underscore; the result is at most 128
// bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
