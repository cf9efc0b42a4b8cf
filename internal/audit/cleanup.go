package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cleanup removes audit files last modified before now minus retention.
func Cleanup(dir string, retention time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.wal"))
	if err != nil {
		return 0, fmt.Errorf("list audit files: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
