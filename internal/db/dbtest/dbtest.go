// Package dbtest поднимает временную sqlite-базу с актуальной схемой.
package dbtest

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"fuelalert/internal/db"
)

func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	d, err := db.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(d) })
	return d
}
