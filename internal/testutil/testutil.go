// Package testutil provides shared test helpers for setting up source
// trees and build caches.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/md2html/internal/cache"
)

// TestCache creates a temporary SQLite build cache that is automatically
// cleaned up.
func TestCache(t *testing.T) *cache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "md2html-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := cache.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

