package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "agent.db")
	gdb, err := Open(context.Background(), DefaultConfig(dsn))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !gdb.Migrator().HasTable("cron_jobs") {
		t.Fatal("expected cron_jobs table after migration")
	}
}

func TestResolveSQLiteDSN(t *testing.T) {
	if _, err := ResolveSQLiteDSN("  "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	got, err := ResolveSQLiteDSN(":memory:")
	if err != nil || got != ":memory:" {
		t.Fatalf("memory dsn: got %q err %v", got, err)
	}
	nested := filepath.Join(t.TempDir(), "a", "b", "agent.db")
	got, err = ResolveSQLiteDSN(nested)
	if err != nil {
		t.Fatalf("nested dsn: %v", err)
	}
	if got != nested {
		t.Fatalf("resolved %q, want %q", got, nested)
	}
}

func TestAutoMigrateNilDB(t *testing.T) {
	if err := AutoMigrate(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
