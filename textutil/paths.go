package textutil

import (
	"bytes"
	"os"
	"path/filepath"
)

// ResolvePath turns path into an absolute path, interpreting relative paths
// against base.
func ResolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	abs, err := filepath.Abs(filepath.Join(base, path))
	if err != nil {
		return filepath.Join(base, path)
	}
	return abs
}

// IsBinaryFile sniffs the first 8 KiB of a file for NUL bytes. Unreadable
// files are reported as non-binary; the caller's read will surface the real
// error.
func IsBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// DisplayPath renders path relative to cwd when it lies inside it, for
// friendlier tool output.
func DisplayPath(path, cwd string) string {
	if cwd == "" {
		return path
	}
	rel, err := filepath.Rel(cwd, path)
	if err != nil || rel == path || len(rel) >= 2 && rel[:2] == ".." {
		return path
	}
	return rel
}
