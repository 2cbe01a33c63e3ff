package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/feedharvest/internal/database"
	"github.com/hitoshi/feedharvest/internal/model"
)

// newTestStore はマイグレーション済みのインメモリSQLiteを使うSQLStoreを返す。
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := database.OpenMigrated(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("テスト用DBの準備に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewSQLStore(db, database.DriverSQLite)
}

func newTestSource(id, url string) *model.Source {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Source{
		ID:            id,
		Name:          "テストソース " + id,
		Kind:          model.SourceKindRSS,
		URL:           url,
		Config:        model.SourceConfig{"max_links": float64(5)},
		FetchInterval: 30 * time.Minute,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSQLStore_ImplementsInterface(t *testing.T) {
	var _ Store = (*SQLStore)(nil)
	var _ SourceRepository = (*SQLSourceRepo)(nil)
	var _ DocumentRepository = (*SQLDocumentRepo)(nil)
}

func TestStatementBuilder_Placeholders(t *testing.T) {
	pgSQL, _, err := StatementBuilder("postgres").Select("id").From("sources").
		Where("url = ?", "x").ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if pgSQL != "SELECT id FROM sources WHERE url = $1" {
		t.Errorf("postgres query = %q", pgSQL)
	}

	liteSQL, _, err := StatementBuilder("sqlite").Select("id").From("sources").
		Where("url = ?", "x").ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if liteSQL != "SELECT id FROM sources WHERE url = ?" {
		t.Errorf("sqlite query = %q", liteSQL)
	}
}

func TestSQLStore_InTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(uow UnitOfWork) error {
		return uow.Sources().Create(ctx, newTestSource("s1", "https://example.com/feed"))
	})
	if err != nil {
		t.Fatalf("InTx がエラーを返した: %v", err)
	}

	got, err := store.Sources().FindByID(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("コミット後にソースが見つからない")
	}
}

func TestSQLStore_InTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(uow UnitOfWork) error {
		if err := uow.Sources().Create(ctx, newTestSource("s1", "https://example.com/feed")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want %v", err, boom)
	}

	got, err := store.Sources().FindByID(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("ロールバック後にソースが残っている")
	}
}
