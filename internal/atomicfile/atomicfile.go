// Package atomicfile provides write-temp-then-rename file persistence so a
// crash mid-write never leaves a truncated or partially-written file behind.
package atomicfile

import (
	"os"
	"path/filepath"
)

// WriteFile writes data to path atomically: the bytes land in a temp file in
// the same directory, are synced, and the temp file is renamed over path.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Retire removes path via rename-then-delete. Renaming first means a file a
// concurrent writer just recreated at path is never the one deleted.
func Retire(path, retiredPath string) error {
	if err := os.Rename(path, retiredPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Remove(retiredPath)
}
