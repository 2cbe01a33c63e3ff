package source

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
)

func createSource(t *testing.T, store *repository.SQLStore, id string) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := store.Sources().Create(context.Background(), &model.Source{
		ID:            id,
		Name:          "source " + id,
		Kind:          model.SourceKindRSS,
		URL:           "https://example.com/" + id,
		FetchInterval: time.Hour,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("ソースの作成に失敗: %v", err)
	}
}

func newTestRecorder(t *testing.T) (*StatsRecorder, *repository.SQLStore) {
	t.Helper()
	store := newTestStore(t)
	var buf bytes.Buffer
	r := NewStatsRecorder(store, newTestLogger(&buf))
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, store
}

func TestStatsRecorder_CountsStayConsistent(t *testing.T) {
	r, store := newTestRecorder(t)
	createSource(t, store, "s1")
	ctx := context.Background()

	outcomes := []bool{true, false, true, true, false, true, false}
	for _, ok := range outcomes {
		msg := ""
		if !ok {
			msg = "timeout"
		}
		if err := r.RecordResult(ctx, "s1", ok, msg); err != nil {
			t.Fatalf("RecordResult がエラーを返した: %v", err)
		}
	}

	src, err := store.Sources().FindByID(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if src.FetchCount != int64(len(outcomes)) {
		t.Errorf("FetchCount = %d, want %d", src.FetchCount, len(outcomes))
	}
	if src.SuccessCount != 4 || src.ErrorCount != 3 {
		t.Errorf("Success/Error = %d/%d, want 4/3", src.SuccessCount, src.ErrorCount)
	}
	if src.SuccessCount+src.ErrorCount != src.FetchCount {
		t.Error("success+error はfetch_countと一致するべき")
	}
	if src.LastError != "timeout" {
		t.Errorf("LastError = %q, want timeout", src.LastError)
	}
	if src.LastFetch == nil || !src.LastFetch.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("LastFetch = %v", src.LastFetch)
	}
}

func TestStatsRecorder_SuccessClearsLastError(t *testing.T) {
	r, store := newTestRecorder(t)
	createSource(t, store, "s1")
	ctx := context.Background()

	if err := r.RecordResult(ctx, "s1", false, "HTTPステータス 503"); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordResult(ctx, "s1", true, "ignored"); err != nil {
		t.Fatal(err)
	}

	src, _ := store.Sources().FindByID(ctx, "s1")
	if src.LastError != "" {
		t.Errorf("成功時はLastErrorが空になるべき: %q", src.LastError)
	}
	if src.LastSuccess == nil {
		t.Error("LastSuccess が設定されるべき")
	}
}

func TestStatsRecorder_LongErrorTruncated(t *testing.T) {
	r, store := newTestRecorder(t)
	createSource(t, store, "s1")
	ctx := context.Background()

	if err := r.RecordResult(ctx, "s1", false, strings.Repeat("エ", 1000)); err != nil {
		t.Fatal(err)
	}

	src, _ := store.Sources().FindByID(ctx, "s1")
	if len(src.LastError) > maxErrorLength {
		t.Errorf("LastError の長さ = %d, want <= %d", len(src.LastError), maxErrorLength)
	}
	if !strings.HasPrefix(src.LastError, "エエエ") || strings.ContainsRune(src.LastError, '�') {
		t.Error("マルチバイト文字の途中で切られてはならない")
	}
}

func TestStatsRecorder_UnknownSource(t *testing.T) {
	r, _ := newTestRecorder(t)

	err := r.RecordResult(context.Background(), "missing", true, "")
	if !errors.Is(err, model.ErrSourceNotFound) {
		t.Errorf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestStatsRecorder_RecordTxRollsBackWithCaller(t *testing.T) {
	r, store := newTestRecorder(t)
	createSource(t, store, "s1")
	ctx := context.Background()

	wantErr := errors.New("persist failed")
	err := store.InTx(ctx, func(uow repository.UnitOfWork) error {
		if err := r.RecordTx(ctx, uow, "s1", true, ""); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	src, _ := store.Sources().FindByID(ctx, "s1")
	if src.FetchCount != 0 {
		t.Errorf("ロールバック後のFetchCount = %d, want 0", src.FetchCount)
	}
}

func TestTruncateValidUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abcdef", 3, "abc"},
		{"あいう", 4, "あ"},
		{"あいう", 6, "あい"},
	}
	for _, tt := range tests {
		if got := truncateValidUTF8(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateValidUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
