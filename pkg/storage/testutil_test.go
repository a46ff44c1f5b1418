package storage

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(1)

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = sqlDB.Close()
		})
		return db
	}
	db, err := gorm.Open(sqlite.Open(memoryDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")
	return db
}

var testDBSeq atomic.Int64

// memoryDSN returns a uniquely named shared-cache in-memory database so
// every pooled connection sees the same tables while tests stay isolated
// from each other.
func memoryDSN() string {
	return fmt.Sprintf("file:storage_test_%d?mode=memory&cache=shared&_busy_timeout=5000",
		testDBSeq.Add(1))
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	tables := []string{"queue_snapshots", "run_log_entries", "config_entries", "job_states", "production_items"}
	for _, tbl := range tables {
		db.Exec("DELETE FROM " + tbl)
	}
}

// openTestStore opens a DB, creates a GormStore, and migrates.
func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	store := NewGormStore(openTestDB(t))
	require.NoError(t, store.Migrate(context.Background()), "migrate schema")
	return store
}
