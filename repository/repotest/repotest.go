// Package repotest opens a throwaway SQLite-backed JobRepository for tests.
package repotest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"worker-transcribe/repository"
)

// New migrates a fresh database in t's temp dir. The pool is capped at one
// connection so that transactions and concurrent callers serialize the way
// row locks would on Postgres.
func New(t testing.TB) repository.JobRepository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "jobs.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewRepo(db)
}
