package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrInvalidPath is returned for project paths that do not name an
// existing directory.
var ErrInvalidPath = errors.New("registry: invalid project path")

// caseInsensitive is true on platforms whose default filesystems fold case.
var caseInsensitive = runtime.GOOS == "darwin" || runtime.GOOS == "windows"

// Normalize turns path into the key a project is registered under: an
// absolute, symlink-free, cleaned directory path, lowercased on
// case-insensitive filesystems.
func Normalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, resolved)
	}
	resolved = filepath.Clean(resolved)
	if caseInsensitive {
		resolved = strings.ToLower(resolved)
	}
	return resolved, nil
}
