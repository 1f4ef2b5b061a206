package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveWorkspacePath resolves path against root and rejects anything that
// would escape it, shared by the file.read/file.write/file.edit tools and
// by the cwd handling of shell.exec and process.run.
func resolveWorkspacePath(root, path string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(rootAbs, path)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}
