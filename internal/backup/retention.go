package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// backupPrefix guards retention against stray .db files in the backup
// directory: only files this service wrote are ever pruned.
const backupPrefix = "aide-backup-"

// listBackups returns backup files in dir with metadata, newest first.
func listBackups(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // skip files we cannot stat
		}

		backups = append(backups, Info{
			Path:      filepath.Join(dir, name),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// applyRetention prunes backups beyond the per-tier keep counts. Backups
// younger than a day fill the hourly tier, older ones the daily tier; the
// newest N in each tier survive.
func applyRetention(dir string, policy RetentionPolicy) error {
	backups, err := listBackups(dir)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return nil
	}

	now := time.Now()
	var hourly, daily []Info
	for _, b := range backups {
		if now.Sub(b.Timestamp) < 24*time.Hour {
			hourly = append(hourly, b)
		} else {
			daily = append(daily, b)
		}
	}

	var toDelete []string
	if len(hourly) > policy.Hourly {
		for _, b := range hourly[policy.Hourly:] {
			toDelete = append(toDelete, b.Path)
		}
	}
	if len(daily) > policy.Daily {
		for _, b := range daily[policy.Daily:] {
			toDelete = append(toDelete, b.Path)
		}
	}

	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err // keep pruning the rest
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete some backups: %w", lastErr)
	}

	return nil
}

// calculateDiskUsage totals the bytes used by stored backups.
func calculateDiskUsage(dir string) (int64, error) {
	backups, err := listBackups(dir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total, nil
}
