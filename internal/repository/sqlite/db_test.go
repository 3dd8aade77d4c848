package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenFileCreatesParentAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hub.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployments`).Scan(&n); err != nil {
		t.Fatalf("query deployments: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty table, got %d rows", n)
	}
}
