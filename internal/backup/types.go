// Package backup provides automated SQLite backup and restore with
// integrity verification and hourly/daily retention pruning.
//
// Backups are consistent point-in-time snapshots taken with VACUUM INTO,
// which is safe against a live WAL-mode database, so the assistant keeps
// serving turns while a backup runs.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the SQLite database file to back up.
	DBPath string

	// Dir is the directory backups are written to.
	Dir string

	// Interval is the duration between automated backups (default: 24h).
	Interval time.Duration

	// Retention controls how many backups each age tier keeps.
	Retention RetentionPolicy

	// Verify enables an integrity check after each backup (recommended).
	Verify bool
}

// RetentionPolicy defines how many backups to keep per age tier. Backups
// younger than 24 hours count as hourly; everything older counts as daily.
// Within each tier the newest N survive and the rest are pruned.
type RetentionPolicy struct {
	// Hourly is the number of backups younger than a day to keep (default: 24).
	Hourly int

	// Daily is the number of older backups to keep (default: 7).
	Daily int
}

// Info describes one stored backup file.
type Info struct {
	// Path is the full path to the backup file.
	Path string

	// Timestamp is when the backup was created.
	Timestamp time.Time

	// Size is the backup file size in bytes.
	Size int64
}

// Result describes a completed backup operation.
type Result struct {
	// Path is the created backup file.
	Path string

	// Duration is how long the backup took.
	Duration time.Duration

	// Size is the backup file size in bytes.
	Size int64

	// Verified reports whether the integrity check ran and passed.
	Verified bool
}

// HealthStatus reports the state of the backup service.
type HealthStatus struct {
	// Status is "healthy" or "warning".
	Status string

	// Message provides context about the status.
	Message string

	// LastBackup is when the last successful backup completed.
	LastBackup time.Time

	// NextBackup is when the next scheduled backup is due.
	NextBackup time.Time

	// TotalBackups is the number of backups currently stored.
	TotalBackups int

	// Dir is the backup storage directory.
	Dir string

	// DiskUsed is the total bytes used by all stored backups.
	DiskUsed int64
}
