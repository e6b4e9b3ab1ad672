package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

func setup(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestMigrateIdempotent(t *testing.T) {
	database := setup(t)
	// Running twice must not error (IF NOT EXISTS everywhere).
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	database := setup(t)
	ctx := context.Background()
	if err := SetKV(ctx, database, "test_kv_key", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKV(ctx, database, "test_kv_key", "v2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, err := GetKV(ctx, database, "test_kv_key")
	if err != nil || v != "v2" {
		t.Fatalf("get = %q, %v", v, err)
	}
	v, err = GetKV(ctx, database, "missing_key")
	if err != nil || v != "" {
		t.Fatalf("missing key = %q, %v", v, err)
	}
}
