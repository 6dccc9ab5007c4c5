package debugger

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileWriter is the filesystem collaborator the importer and worker use for
// cached scripts. The default implementation writes to disk; tests substitute
// an in-memory one.
type FileWriter interface {
	// WriteFile writes data at path, creating parent directories as needed.
	WriteFile(path string, data []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
}

// DiskWriter implements FileWriter against the local filesystem.
type DiskWriter struct{}

// WriteFile writes data at path after ensuring the parent directory exists.
func (DiskWriter) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (DiskWriter) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
