package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultOutputPath returns reports/<session>/engine_<session>.<ext>.
func DefaultOutputPath(session, format string) string {
	s := strings.TrimSpace(session)
	if s == "" {
		s = "unknown"
	}
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if ext == "" {
		ext = "xlsx"
	}
	return filepath.Join("reports", s, fmt.Sprintf("engine_%s.%s", s, ext))
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
