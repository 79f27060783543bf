package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/fleetops/permit-ledger/internal/port"
)

func getMySQLStore(t *testing.T) *MySQLStore {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/permits?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewMySQLStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	// Clear test rows.
	db.Exec(`DELETE FROM documents WHERE path LIKE 'test/%'`)
	return store
}

func TestMySQLStore_WriteReadDelete(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()

	if err := store.AtomicUpdate(ctx, map[string]any{
		"test/e1": testDoc{Name: "first", Qty: 100},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var doc testDoc
	if err := store.Get(ctx, "test/e1", &doc); err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Name != "first" || doc.Qty != 100 {
		t.Errorf("unexpected doc: %+v", doc)
	}

	if err := store.AtomicUpdate(ctx, map[string]any{"test/e1": nil}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Get(ctx, "test/e1", &doc); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestMySQLStore_QueryByField(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()

	if err := store.AtomicUpdate(ctx, map[string]any{
		"test/p1": testDoc{Truck: "T1", Qty: 10},
		"test/p2": testDoc{Truck: "T2", Qty: 20},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	docs, err := store.QueryByField(ctx, "test/", "truckNumber", "T1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 match, got %d", len(docs))
	}
	if _, ok := docs["test/p1"]; !ok {
		t.Error("expected test/p1 in result")
	}
}

func TestMySQLStore_UpsertOverwrites(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()

	for _, name := range []string{"v1", "v2"} {
		if err := store.AtomicUpdate(ctx, map[string]any{
			"test/e1": testDoc{Name: name},
		}); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var doc testDoc
	if err := store.Get(ctx, "test/e1", &doc); err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Name != "v2" {
		t.Errorf("expected overwrite to v2, got %q", doc.Name)
	}
}
