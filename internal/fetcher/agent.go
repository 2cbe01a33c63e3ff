package fetcher

import (
	"context"
	"log/slog"

	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/summarizer"
)

// Summarizer は本文の要約を返す。queryが空でなければqueryに沿って抽出する。
type Summarizer interface {
	Summarize(ctx context.Context, content, query string) (*summarizer.Summary, error)
}

// AgentFetcher はページを取得したうえで、要約とキーワードをリモートのモデルに付けさせる。
// モデルが使えない場合は本文先頭による簡易要約に切り替え、取得自体は失敗させない。
type AgentFetcher struct {
	pages      PageFetcher
	summarizer Summarizer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

var _ Fetcher = (*AgentFetcher)(nil)

// NewAgentFetcher はAgentFetcherを生成する。
func NewAgentFetcher(pages PageFetcher, s Summarizer, mc metrics.MetricsCollector, logger *slog.Logger) *AgentFetcher {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AgentFetcher{
		pages:      pages,
		summarizer: s,
		metrics:    mc,
		logger:     logger,
	}
}

// Fetch はページを1件取得して要約を付与する。agent_query が設定されていればそれに沿って抽出する。
func (f *AgentFetcher) Fetch(ctx context.Context, rawURL string, cfg model.SourceConfig) ([]model.Article, error) {
	page, err := f.pages.FetchPage(ctx, rawURL, cfg)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}

	query := cfg.String(model.ConfigAgentQuery)

	summary, err := f.summarizer.Summarize(ctx, page.Content, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.metrics.RecordSummarizerFallback()
		f.logger.Warn("要約の取得に失敗したため簡易要約を使用します",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		summary = summarizer.Fallback(page.Content)
	}

	article := *page
	article.Link = rawURL
	article.Summary = summary.Summary
	article.Tags = summary.Keywords

	metadata := make(map[string]any, len(page.Metadata)+2)
	for k, v := range page.Metadata {
		metadata[k] = v
	}
	metadata["keywords"] = summary.Keywords
	metadata["entities"] = summary.Entities
	if query != "" {
		metadata["query"] = query
	}
	article.Metadata = metadata

	return []model.Article{article}, nil
}
