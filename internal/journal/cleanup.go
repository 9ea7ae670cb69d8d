package journal

import (
	"fmt"
	"os"
	"time"
)

// RetentionConfig controls journal file retention.
type RetentionConfig struct {
	RetentionDays int
	FilePrefix    string
}

// DefaultRetention keeps 30 days of journals.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{RetentionDays: 30, FilePrefix: DefaultPrefix}
}

// CleanupStats tracks cleanup results.
type CleanupStats struct {
	FilesRemoved int
	BytesFreed   int64
}

// Cleanup removes journal files last modified before the retention period.
// A non-positive RetentionDays keeps everything.
func Cleanup(dir string, cfg RetentionConfig) (CleanupStats, error) {
	var stats CleanupStats
	if cfg.RetentionDays <= 0 {
		return stats, nil
	}

	files, err := Files(dir, cfg.FilePrefix)
	if err != nil {
		return stats, fmt.Errorf("list journal files: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("remove %s: %w", path, err)
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}
