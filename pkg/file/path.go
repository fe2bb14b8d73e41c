package file

import (
	"path/filepath"
	"strings"
)

// Stem returns the base name of path without its extension. Dotfiles keep
// their name: Stem(".env") is ".env".
func Stem(path string) string {
	if path == "" {
		return path
	}

	filename := filepath.Base(path)
	lastDot := strings.LastIndex(filename, ".")
	if lastDot <= 0 {
		return filename
	}
	return filename[:lastDot]
}

// RelSlash returns path relative to root using forward slashes, or path
// itself when it is not under root.
func RelSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
