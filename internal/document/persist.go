// Package document は取得した記事の重複排除と永続化を提供する。
package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/repository"
	"github.com/hitoshi/feedharvest/internal/summarizer"
)

// UntitledPlaceholder はタイトルが空の記事に付けるタイトル。
const UntitledPlaceholder = "未命名"

// Origin はドキュメントの取得元。source_name/source_typeとして保存される。
type Origin struct {
	Name string
	Type string
	// URL はリンクを持たない記事のsource_urlの基になる。
	URL string
}

// OriginFromSource はデータソースから取得元を作る。
func OriginFromSource(src *model.Source) Origin {
	return Origin{
		Name: src.Name,
		Type: string(src.Kind),
		URL:  src.URL,
	}
}

// Persister は記事をsource_urlで重複排除してドキュメントとして保存する。
type Persister struct {
	store  repository.Store
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewPersister はPersisterを生成する。
func NewPersister(store repository.Store, logger *slog.Logger) *Persister {
	return &Persister{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Persist は記事を1トランザクションで保存し、新規保存件数を返す。
// 途中で失敗した場合は1件も保存されない。
func (p *Persister) Persist(ctx context.Context, origin Origin, articles []model.Article) (int, error) {
	var saved int
	err := p.store.InTx(ctx, func(uow repository.UnitOfWork) error {
		n, err := p.PersistTx(ctx, uow, origin, articles)
		if err != nil {
			return err
		}
		saved = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

// PersistTx は呼び出し元のトランザクション内で記事を保存し、新規保存件数を返す。
// source_urlが既存のもの、同じバッチ内で重複するものは保存しない。
// リンクが空の記事にはlinklessURLで記事ごとのsource_urlを割り当てる。
func (p *Persister) PersistTx(ctx context.Context, uow repository.UnitOfWork, origin Origin, articles []model.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	docs := uow.Documents()
	now := p.now().UTC()
	seen := make(map[string]struct{}, len(articles))
	saved, skipped := 0, 0

	for i := range articles {
		a := &articles[i]

		link := strings.TrimSpace(a.Link)
		if link == "" {
			link = linklessURL(origin, a)
		}
		if _, dup := seen[link]; dup {
			skipped++
			continue
		}
		seen[link] = struct{}{}

		exists, err := docs.ExistsBySourceURL(ctx, link)
		if err != nil {
			return 0, fmt.Errorf("ドキュメントの重複確認に失敗しました: %w", err)
		}
		if exists {
			skipped++
			continue
		}

		inserted, err := docs.Create(ctx, p.buildDocument(origin, link, a, now))
		if err != nil {
			return 0, fmt.Errorf("ドキュメントの保存に失敗しました: %w", err)
		}
		if !inserted {
			// 事前確認の後に別トランザクションが同じURLを保存した
			skipped++
			continue
		}
		saved++
	}

	p.logger.Debug("記事の保存が完了しました",
		slog.String("source_name", origin.Name),
		slog.Int("found", len(articles)),
		slog.Int("saved", saved),
		slog.Int("skipped", skipped),
	)
	return saved, nil
}

// linklessURL はリンクを持たない記事のsource_urlを返す。
// 取得元URLにタイトルと本文のハッシュをフラグメントとして付けるため、
// 内容の異なる記事は別々に保存され、同じ内容の記事は再取得しても1件のままになる。
func linklessURL(origin Origin, a *model.Article) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(a.Title)))
	h.Write([]byte{0})
	h.Write([]byte(a.Content))
	return origin.URL + "#nolink-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *Persister) buildDocument(origin Origin, link string, a *model.Article, now time.Time) *model.Document {
	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = UntitledPlaceholder
	}

	summary := strings.TrimSpace(a.Summary)
	if summary == "" {
		summary = summarizer.Truncate(a.Content, summarizer.MaxSummaryRunes)
	}

	metadata := make(map[string]any, len(a.Metadata)+2)
	for k, v := range a.Metadata {
		metadata[k] = v
	}
	if a.Author != "" {
		metadata["author"] = a.Author
	}
	switch {
	case a.Published != "":
		metadata["published"] = a.Published
	case a.PublishedAt != nil:
		metadata["published"] = a.PublishedAt.UTC().Format(time.RFC3339)
	}

	return &model.Document{
		ID:         p.newID(),
		Title:      title,
		Content:    a.Content,
		Summary:    summary,
		SourceType: origin.Type,
		SourceURL:  link,
		SourceName: origin.Name,
		Tags:       a.Tags,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
