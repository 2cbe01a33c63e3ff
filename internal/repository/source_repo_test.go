package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/feedharvest/internal/model"
)

func TestSQLSourceRepo_CreateAndFind(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	src := newTestSource("s1", "https://example.com/feed")
	src.Description = "説明"
	if err := repo.Create(ctx, src); err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}

	got, err := repo.FindByID(ctx, "s1")
	if err != nil {
		t.Fatalf("FindByID がエラーを返した: %v", err)
	}
	if got == nil {
		t.Fatal("FindByID が nil を返した")
	}
	if got.URL != src.URL || got.Name != src.Name || got.Description != "説明" {
		t.Errorf("取得結果が一致しない: %+v", got)
	}
	if got.Kind != model.SourceKindRSS {
		t.Errorf("Kind = %q, want rss", got.Kind)
	}
	if got.FetchInterval != 30*time.Minute {
		t.Errorf("FetchInterval = %v, want 30m", got.FetchInterval)
	}
	if !got.IsActive {
		t.Error("IsActive should be true")
	}
	if got.LastFetch != nil || got.LastSuccess != nil {
		t.Error("未取得のソースはLastFetch/LastSuccessがnilであるべき")
	}
	if got.Config.Int(model.ConfigMaxLinks, 0) != 5 {
		t.Errorf("Config.max_links = %d, want 5", got.Config.Int(model.ConfigMaxLinks, 0))
	}

	byURL, err := repo.FindByURL(ctx, "https://example.com/feed")
	if err != nil || byURL == nil || byURL.ID != "s1" {
		t.Errorf("FindByURL = %+v, %v", byURL, err)
	}
}

func TestSQLSourceRepo_FindByID_NotFoundReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Sources().FindByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSQLSourceRepo_Create_DuplicateURL(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSource("s1", "https://example.com/feed")); err != nil {
		t.Fatal(err)
	}
	err := repo.Create(ctx, newTestSource("s2", "https://example.com/feed"))
	if !errors.Is(err, model.ErrDuplicateSourceURL) {
		t.Errorf("error = %v, want ErrDuplicateSourceURL", err)
	}
}

func TestSQLSourceRepo_UpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	src := newTestSource("s1", "https://example.com/feed")
	if err := repo.Create(ctx, src); err != nil {
		t.Fatal(err)
	}

	src.Name = "更新後"
	src.IsActive = false
	src.Config = model.SourceConfig{model.ConfigListMode: true}
	if err := repo.Update(ctx, src); err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}

	got, _ := repo.FindByID(ctx, "s1")
	if got.Name != "更新後" || got.IsActive {
		t.Errorf("更新が反映されていない: %+v", got)
	}
	if !got.Config.Bool(model.ConfigListMode, false) {
		t.Error("config.list_mode should be true after update")
	}

	if err := repo.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete がエラーを返した: %v", err)
	}
	got, _ = repo.FindByID(ctx, "s1")
	if got != nil {
		t.Error("削除後もソースが残っている")
	}
}

func TestSQLSourceRepo_ListActive_ExcludesInactive(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	active := newTestSource("s1", "https://example.com/a")
	inactive := newTestSource("s2", "https://example.com/b")
	inactive.IsActive = false
	for _, s := range []*model.Source{active, inactive} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive がエラーを返した: %v", err)
	}
	if len(list) != 1 || list[0].ID != "s1" {
		t.Errorf("ListActive = %d件, want s1のみ", len(list))
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("ListAll = %d件, want 2", len(all))
	}
}

func TestSQLSourceRepo_RecordFetchResult(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSource("s1", "https://example.com/feed")); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	if err := repo.RecordFetchResult(ctx, "s1", false, "timeout", at); err != nil {
		t.Fatalf("失敗の記録に失敗: %v", err)
	}

	got, _ := repo.FindByID(ctx, "s1")
	if got.FetchCount != 1 || got.ErrorCount != 1 || got.SuccessCount != 0 {
		t.Errorf("counts = %d/%d/%d, want 1/0/1", got.FetchCount, got.SuccessCount, got.ErrorCount)
	}
	if got.LastError != "timeout" {
		t.Errorf("LastError = %q, want timeout", got.LastError)
	}
	if got.LastFetch == nil || !got.LastFetch.Equal(at) {
		t.Errorf("LastFetch = %v, want %v", got.LastFetch, at)
	}
	if got.LastSuccess != nil {
		t.Error("失敗のみの場合LastSuccessはnilのまま")
	}

	later := at.Add(time.Hour)
	if err := repo.RecordFetchResult(ctx, "s1", true, "", later); err != nil {
		t.Fatalf("成功の記録に失敗: %v", err)
	}

	got, _ = repo.FindByID(ctx, "s1")
	if got.FetchCount != 2 || got.SuccessCount != 1 || got.ErrorCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", got.FetchCount, got.SuccessCount, got.ErrorCount)
	}
	if got.LastError != "" {
		t.Errorf("成功時はLastErrorがクリアされるべき: %q", got.LastError)
	}
	if got.LastSuccess == nil || !got.LastSuccess.Equal(later) {
		t.Errorf("LastSuccess = %v, want %v", got.LastSuccess, later)
	}
}

func TestSQLSourceRepo_RecordFetchResult_UnknownSource(t *testing.T) {
	store := newTestStore(t)

	err := store.Sources().RecordFetchResult(context.Background(), "missing", true, "", time.Now())
	if !errors.Is(err, model.ErrSourceNotFound) {
		t.Errorf("error = %v, want ErrSourceNotFound", err)
	}
}

func TestSQLSourceRepo_RecordFetchResult_ConcurrentIncrements(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	if err := repo.Create(ctx, newTestSource("s1", "https://example.com/feed")); err != nil {
		t.Fatal(err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := repo.RecordFetchResult(ctx, "s1", i%2 == 0, "e", time.Now().UTC()); err != nil {
				t.Errorf("RecordFetchResult: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := repo.FindByID(ctx, "s1")
	if got.FetchCount != n {
		t.Errorf("FetchCount = %d, want %d", got.FetchCount, n)
	}
	if got.SuccessCount+got.ErrorCount != got.FetchCount {
		t.Errorf("success(%d) + error(%d) != fetch(%d)", got.SuccessCount, got.ErrorCount, got.FetchCount)
	}
}

func TestSQLSourceRepo_Stats(t *testing.T) {
	store := newTestStore(t)
	repo := store.Sources()
	ctx := context.Background()

	a := newTestSource("s1", "https://example.com/a")
	b := newTestSource("s2", "https://example.com/b")
	b.Kind = model.SourceKindWeb
	b.IsActive = false
	for _, s := range []*model.Source{a, b} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	_ = repo.RecordFetchResult(ctx, "s1", true, "", time.Now().UTC())
	_ = repo.RecordFetchResult(ctx, "s1", false, "x", time.Now().UTC())

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats がエラーを返した: %v", err)
	}
	if stats.Total != 2 || stats.Active != 1 {
		t.Errorf("total/active = %d/%d, want 2/1", stats.Total, stats.Active)
	}
	if stats.FetchCount != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Errorf("fetch/success/error = %d/%d/%d, want 2/1/1", stats.FetchCount, stats.SuccessCount, stats.ErrorCount)
	}
	if stats.ByKind["rss"] != 1 || stats.ByKind["web"] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
}
