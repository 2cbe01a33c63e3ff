package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/security"
)

// PageFetcher は1ページから記事を抽出する。フィード本文が短い場合の補完に使う。
type PageFetcher interface {
	FetchPage(ctx context.Context, url string, cfg model.SourceConfig) (*model.Article, error)
}

// FeedFetcher はRSS/Atomフィードを取得して記事に変換する。
type FeedFetcher struct {
	http       *HTTPClient
	robots     *RobotsChecker
	politeness *Politeness
	pages      PageFetcher
	sanitizer  *security.TextSanitizer
	logger     *slog.Logger

	// minContentLength 未満の本文はリンク先ページの本文で補完を試みる
	minContentLength int
}

var _ Fetcher = (*FeedFetcher)(nil)

// NewFeedFetcher はFeedFetcherを生成する。pagesがnilの場合は本文の補完を行わない。
func NewFeedFetcher(
	client *HTTPClient,
	robots *RobotsChecker,
	politeness *Politeness,
	pages PageFetcher,
	sanitizer *security.TextSanitizer,
	minContentLength int,
	logger *slog.Logger,
) *FeedFetcher {
	return &FeedFetcher{
		http:             client,
		robots:           robots,
		politeness:       politeness,
		pages:            pages,
		sanitizer:        sanitizer,
		minContentLength: minContentLength,
		logger:           logger,
	}
}

// Fetch はフィードを取得し、エントリーを記事に変換して返す。
func (f *FeedFetcher) Fetch(ctx context.Context, rawURL string, cfg model.SourceConfig) ([]model.Article, error) {
	start := time.Now()

	if cfg.Bool(model.ConfigRespectRobots, true) {
		ok, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	resp, err := f.http.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	// 文字コードはXML宣言に従ってgofeedが解釈する
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	articles := make([]model.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		articles = append(articles, f.convertItem(item))
	}

	if err := f.politeness.Delay(ctx, model.SourceKindRSS, cfg); err != nil {
		return nil, err
	}

	// 本文が短いエントリーはリンク先ページで補完する
	for i := range articles {
		if err := f.enrich(ctx, &articles[i]); err != nil {
			return nil, err
		}
	}

	f.logger.Info("フィードの取得が完了しました",
		slog.String("url", rawURL),
		slog.Int("articles", len(articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return articles, nil
}

// convertItem はgofeedのエントリーを記事に変換する。
func (f *FeedFetcher) convertItem(item *gofeed.Item) model.Article {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}

	article := model.Article{
		Title:   security.CleanText(item.Title),
		Content: f.sanitizer.ToText(raw),
		Link:    strings.TrimSpace(item.Link),
		Tags:    nonEmpty(item.Categories),
	}

	// リンクがなくGUIDがURL形式の場合はGUIDをリンクとして使う
	if article.Link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
		article.Link = item.GUID
	}

	if item.Author != nil {
		article.Author = item.Author.Name
	}
	if article.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		article.Author = item.Authors[0].Name
	}

	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		article.PublishedAt = &t
		article.Published = item.Published
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		article.PublishedAt = &t
		article.Published = item.Updated
	default:
		article.Published = item.Published
		if article.Published == "" {
			article.Published = item.Updated
		}
	}

	return article
}

// enrich は本文がminContentLength文字未満の記事について、リンク先の本文が長ければ置き換える。
// 補完の失敗は記事の取得自体を失敗させない。
func (f *FeedFetcher) enrich(ctx context.Context, article *model.Article) error {
	if f.pages == nil || article.Link == "" {
		return nil
	}
	if utf8.RuneCountInString(article.Content) >= f.minContentLength {
		return nil
	}

	page, err := f.pages.FetchPage(ctx, article.Link, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("リンク先ページでの本文補完に失敗しました",
			slog.String("url", article.Link),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if page == nil {
		return nil
	}

	if utf8.RuneCountInString(page.Content) > utf8.RuneCountInString(article.Content) {
		article.Content = page.Content
	}
	if article.Title == "" {
		article.Title = page.Title
	}
	return nil
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
