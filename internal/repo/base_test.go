package repo

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type widget struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestNewBaseStoresConnection(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.db != db {
		t.Fatalf("expected base db to match provided connection")
	}
}

func TestBaseDB_BindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)

	if withCtx == nil {
		t.Fatalf("expected non-nil DB when context provided")
	}
	if withCtx.Statement == nil {
		t.Fatalf("expected statement created after WithContext")
	}
	if withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through, got %v", withCtx.Statement.Context)
	}

	withoutCtx := base.DB(nil)
	if withoutCtx != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseTx_PrefersTransaction(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)
	ctx := context.Background()

	if got := base.Tx(nil, nil); got != db {
		t.Fatalf("expected base connection without tx or ctx")
	}

	tx := db.Begin()
	defer tx.Rollback()
	if got := base.Tx(nil, tx); got != tx {
		t.Fatalf("expected tx to be returned as-is without ctx")
	}
	if got := base.Tx(ctx, tx); got.Statement.Context != ctx {
		t.Fatalf("expected ctx bound to tx")
	}
}

func TestTakeOptional(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)
	ctx := context.Background()
	if err := db.Create(&widget{ID: 1, Name: "cadence"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	found, err := TakeOptional[widget](base.DB(ctx).Where("name = ?", "cadence"))
	if err != nil || found == nil || found.ID != 1 {
		t.Fatalf("expected seeded row, got %+v err=%v", found, err)
	}

	missing, err := TakeOptional[widget](base.DB(ctx).Where("name = ?", "absent"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing row, got %+v err=%v", missing, err)
	}

	_, err = TakeOptional[widget](base.DB(ctx).Table("no_such_table"))
	if err == nil {
		t.Fatalf("expected query error to surface")
	}
}
