package resources

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteLocalFile writes content to filePath readable only by its owner,
// creating the parent directory when needed.
func WriteLocalFile(filePath, content string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(filePath), err)
	}

	if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
		return ReturnLogError("write to file %s failed: %w", filePath, err)
	}

	return nil
}

// ChownTree hands dir and everything below it to uid:gid.
func ChownTree(dir string, uid, gid int) error {
	return filepath.Walk(dir, func(p string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		return os.Lchown(p, uid, gid)
	})
}
