package source

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/feedharvest/internal/database"
	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
	"github.com/hitoshi/feedharvest/internal/security"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestStore(t *testing.T) *repository.SQLStore {
	t.Helper()
	db, err := database.OpenMigrated(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("テスト用DBの準備に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repository.NewSQLStore(db, database.DriverSQLite)
}

func newTestService(t *testing.T) (*Service, *repository.SQLStore) {
	t.Helper()
	store := newTestStore(t)
	var buf bytes.Buffer
	svc := NewService(store, security.NewURLGuard(true), newTestLogger(&buf))
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.FixedZone("JST", 9*3600)) }
	return svc, store
}

func TestService_Create(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, CreateParams{
		Name:   " テックブログ ",
		Kind:   model.SourceKindWeb,
		URL:    "https://blog.example.com/",
		Config: model.SourceConfig{"list_mode": true},
	})
	if err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	if src.ID == "" {
		t.Error("IDが採番されるべき")
	}
	if src.Name != "テックブログ" {
		t.Errorf("Name = %q", src.Name)
	}
	if !src.IsActive {
		t.Error("既定で有効であるべき")
	}
	if src.FetchInterval != model.DefaultFetchInterval {
		t.Errorf("FetchInterval = %v, want %v", src.FetchInterval, model.DefaultFetchInterval)
	}
	if src.CreatedAt.Location() != time.UTC || src.CreatedAt.Hour() != 0 {
		t.Errorf("CreatedAt はUTCで保存されるべき: %v", src.CreatedAt)
	}

	got, err := store.Sources().FindByID(ctx, src.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	if !got.Config.Bool("list_mode", false) {
		t.Error("Config が保存されるべき")
	}
}

func TestService_Create_DuplicateURL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := CreateParams{Name: "A", Kind: model.SourceKindRSS, URL: "https://example.com/feed"}
	if _, err := svc.Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.Name = "B"
	_, err := svc.Create(ctx, p)
	if !errors.Is(err, model.ErrDuplicateSourceURL) {
		t.Errorf("err = %v, want ErrDuplicateSourceURL", err)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		p    CreateParams
	}{
		{"名前が空", CreateParams{Name: " ", Kind: model.SourceKindRSS, URL: "https://example.com/a"}},
		{"未知の種類", CreateParams{Name: "x", Kind: "ftp", URL: "https://example.com/b"}},
		{"不正なURL", CreateParams{Name: "x", Kind: model.SourceKindRSS, URL: "file:///etc/passwd"}},
		{"プライベートアドレス", CreateParams{Name: "x", Kind: model.SourceKindWeb, URL: "http://192.168.0.1/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.p); err == nil {
				t.Error("エラーを返すべき")
			}
		})
	}
}

func TestService_Create_IntervalAndInactive(t *testing.T) {
	svc, _ := newTestService(t)

	src, err := svc.Create(context.Background(), CreateParams{
		Name:            "間隔指定",
		Kind:            model.SourceKindAPI,
		URL:             "https://api.example.com/",
		IntervalSeconds: 600,
		Inactive:        true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if src.FetchInterval != 10*time.Minute {
		t.Errorf("FetchInterval = %v, want 10m", src.FetchInterval)
	}
	if src.IsActive {
		t.Error("Inactive指定時は無効で作成されるべき")
	}
}

func TestLoadDefaults(t *testing.T) {
	defaults, err := LoadDefaults()
	if err != nil {
		t.Fatalf("LoadDefaults がエラーを返した: %v", err)
	}
	if len(defaults) != 3 {
		t.Fatalf("既定データソース数 = %d, want 3", len(defaults))
	}
	for _, d := range defaults {
		if d.Kind != model.SourceKindRSS {
			t.Errorf("%s: Kind = %q, want rss", d.Name, d.Kind)
		}
		if d.interval() != time.Hour {
			t.Errorf("%s: interval = %v, want 1h", d.Name, d.interval())
		}
		if d.URL == "" || d.Description == "" {
			t.Errorf("%s: URLと説明が設定されるべき", d.Name)
		}
	}
}

func TestService_Seed_Idempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed がエラーを返した: %v", err)
	}
	if created != 3 {
		t.Errorf("1回目の登録件数 = %d, want 3", created)
	}

	created, err = svc.Seed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("2回目の登録件数 = %d, want 0", created)
	}

	all, err := store.Sources().ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("データソース数 = %d, want 3", len(all))
	}
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	if !errors.Is(err, model.ErrSourceNotFound) {
		t.Errorf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestService_SetActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	src, err := svc.Create(ctx, CreateParams{Name: "A", Kind: model.SourceKindRSS, URL: "https://example.com/feed"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetActive(ctx, src.ID, false); err != nil {
		t.Fatalf("SetActive がエラーを返した: %v", err)
	}

	got, err := svc.Get(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Error("無効化されるべき")
	}

	if err := svc.SetActive(ctx, "missing", true); !errors.Is(err, model.ErrSourceNotFound) {
		t.Errorf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestService_ListAndStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Seed(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, CreateParams{Name: "Web", Kind: model.SourceKindWeb, URL: "https://example.com/", Inactive: true}); err != nil {
		t.Fatal(err)
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 {
		t.Errorf("List の件数 = %d, want 4", len(list))
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 4 || stats.Active != 3 {
		t.Errorf("Total/Active = %d/%d, want 4/3", stats.Total, stats.Active)
	}
	if stats.ByKind["rss"] != 3 || stats.ByKind["web"] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
}
