// Package startup contains boot-time repair routines.
package startup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// CleanWorkDirs removes per-job scratch directories left behind by an
// unclean shutdown. Workers create one directory per job under workPath and
// remove it when the job finishes, so anything present at boot is orphaned.
func CleanWorkDirs(workPath string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(workPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading work directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(workPath, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("removing orphaned work directory failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("removed orphaned work directories", slog.Int("count", removed))
	}
	return removed, nil
}
