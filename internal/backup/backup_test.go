package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// createTestDB creates a SQLite database with a few rows of sample data.
func createTestDB(t *testing.T, dbPath string) {
	t.Helper()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`
		CREATE TABLE turns (
			id TEXT PRIMARY KEY,
			input TEXT NOT NULL
		)
	`); err != nil {
		t.Fatalf("Failed to create test table: %v", err)
	}

	if _, err := db.Exec(`
		INSERT INTO turns (id, input) VALUES
		('turn:1', 'remind me to water the plants'),
		('turn:2', 'what is on my list'),
		('turn:3', 'mark it done')
	`); err != nil {
		t.Fatalf("Failed to insert test data: %v", err)
	}
}

// countTurns counts rows in the turns table of the database at dbPath.
func countTurns(t *testing.T, dbPath string) int {
	t.Helper()

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM turns").Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}

func newTestService(t *testing.T, dbPath, dir string) *Service {
	t.Helper()

	service, err := New(Config{
		DBPath:    dbPath,
		Dir:       dir,
		Interval:  1 * time.Hour,
		Retention: RetentionPolicy{Hourly: 24, Daily: 7},
		Verify:    true,
	})
	if err != nil {
		t.Fatalf("Failed to create backup service: %v", err)
	}
	return service
}

func TestBackupNow(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "aide.db")
	backupDir := filepath.Join(tmpDir, "backups")

	createTestDB(t, dbPath)
	service := newTestService(t, dbPath, backupDir)

	result, err := service.BackupNow(context.Background())
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	if result.Path == "" {
		t.Error("Backup path is empty")
	}
	if result.Size <= 0 {
		t.Error("Backup size should be positive")
	}
	if !result.Verified {
		t.Error("Backup should be verified")
	}

	if _, err := os.Stat(result.Path); err != nil {
		t.Fatalf("Backup file not found at %s: %v", result.Path, err)
	}

	// The backup must be a readable database with the original rows
	if got := countTurns(t, result.Path); got != 3 {
		t.Errorf("Expected 3 rows in backup, got %d", got)
	}
}

func TestBackupNow_MissingDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	service := newTestService(t, filepath.Join(tmpDir, "missing.db"), filepath.Join(tmpDir, "backups"))

	if _, err := service.BackupNow(context.Background()); err == nil {
		t.Fatal("Expected error for missing database")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Dir: "/tmp/b"}); err == nil {
		t.Error("Expected error for missing database path")
	}
	if _, err := New(Config{DBPath: "/tmp/aide.db"}); err == nil {
		t.Error("Expected error for missing backup directory")
	}
}

func TestRestore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "aide.db")
	backupDir := filepath.Join(tmpDir, "backups")

	createTestDB(t, dbPath)
	service := newTestService(t, dbPath, backupDir)

	result, err := service.BackupNow(context.Background())
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	// Mutate the live database after the backup
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO turns (id, input) VALUES ('turn:4', 'extra')`); err != nil {
		t.Fatalf("Failed to insert row: %v", err)
	}
	_ = db.Close()

	if got := countTurns(t, dbPath); got != 4 {
		t.Fatalf("Expected 4 rows before restore, got %d", got)
	}

	if err := service.Restore(context.Background(), result.Path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if got := countTurns(t, dbPath); got != 3 {
		t.Errorf("Expected 3 rows after restore, got %d", got)
	}
}

func TestRestore_MissingBackup(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "aide.db")
	createTestDB(t, dbPath)
	service := newTestService(t, dbPath, filepath.Join(tmpDir, "backups"))

	err := service.Restore(context.Background(), filepath.Join(tmpDir, "nope.db"))
	if err == nil {
		t.Fatal("Expected error for missing backup file")
	}
}

func TestListBackups_IgnoresForeignFiles(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "aide.db")
	backupDir := filepath.Join(tmpDir, "backups")

	createTestDB(t, dbPath)
	service := newTestService(t, dbPath, backupDir)

	if _, err := service.BackupNow(context.Background()); err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}
	if _, err := service.BackupNow(context.Background()); err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	// A stray database in the backup directory must not be listed or pruned
	stray := filepath.Join(backupDir, "unrelated.db")
	if err := os.WriteFile(stray, []byte("not ours"), 0o600); err != nil {
		t.Fatalf("Failed to write stray file: %v", err)
	}
	// Neither may a directory, even with a backup-shaped name
	if err := os.Mkdir(filepath.Join(backupDir, "aide-backup-dir.db"), 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	backups, err := service.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups, got %d", len(backups))
	}
	if !backups[0].Timestamp.After(backups[1].Timestamp) && !backups[0].Timestamp.Equal(backups[1].Timestamp) {
		t.Error("Backups should be sorted newest first")
	}
	for _, b := range backups {
		if b.Path == stray {
			t.Error("Stray file listed as a backup")
		}
	}
}

func TestApplyRetention(t *testing.T) {
	dir := t.TempDir()

	// Five recent files and five old ones, each tier with staggered mtimes
	now := time.Now()
	writeFake := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("backup"), 0o600); err != nil {
			t.Fatalf("Failed to write fake backup: %v", err)
		}
		mtime := now.Add(-age)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Failed to set mtime: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		writeFake(fmt.Sprintf("aide-backup-recent%d.db", i), time.Duration(i+1)*time.Hour)
		writeFake(fmt.Sprintf("aide-backup-old%d.db", i), time.Duration(i+2)*24*time.Hour)
	}

	if err := applyRetention(dir, RetentionPolicy{Hourly: 2, Daily: 3}); err != nil {
		t.Fatalf("applyRetention failed: %v", err)
	}

	backups, err := listBackups(dir)
	if err != nil {
		t.Fatalf("listBackups failed: %v", err)
	}
	if len(backups) != 5 {
		t.Fatalf("Expected 5 survivors (2 hourly + 3 daily), got %d", len(backups))
	}

	// The newest of each tier must have survived
	names := map[string]bool{}
	for _, b := range backups {
		names[filepath.Base(b.Path)] = true
	}
	for _, want := range []string{
		"aide-backup-recent0.db", "aide-backup-recent1.db",
		"aide-backup-old0.db", "aide-backup-old1.db", "aide-backup-old2.db",
	} {
		if !names[want] {
			t.Errorf("Expected %s to survive retention", want)
		}
	}
}

func TestVerifyBackup_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.db")
	if err := os.WriteFile(corrupt, []byte("this is not a sqlite file"), 0o600); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	if err := verifyBackup(corrupt); err == nil {
		t.Fatal("Expected verification to fail for corrupt file")
	}
}

func TestHealthCheck(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "aide.db")
	backupDir := filepath.Join(tmpDir, "backups")

	createTestDB(t, dbPath)
	service := newTestService(t, dbPath, backupDir)

	health, err := service.HealthCheck()
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("Expected healthy status before first backup, got %s", health.Status)
	}
	if health.TotalBackups != 0 {
		t.Errorf("Expected 0 backups, got %d", health.TotalBackups)
	}

	if _, err := service.BackupNow(context.Background()); err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	health, err = service.HealthCheck()
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if health.TotalBackups != 1 {
		t.Errorf("Expected 1 backup, got %d", health.TotalBackups)
	}
	if health.DiskUsed <= 0 {
		t.Error("Expected positive disk usage")
	}
	if health.LastBackup.IsZero() {
		t.Error("Expected last backup time to be set")
	}
}
