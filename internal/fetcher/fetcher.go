// Package fetcher はデータソースの種類ごとの取得処理を提供する。
// RSS/Atomフィード、Webページ（単一・一覧）、要約付きのエージェント取得の3種類があり、
// いずれもrobots.txtの確認と取得後の待機を行う。
package fetcher

import (
	"context"
	"fmt"

	"github.com/hitoshi/feedharvest/internal/model"
)

// Fetcher はURLから記事を取得する。
// robots.txtで禁止されている場合はエラーではなく空の結果を返す。
type Fetcher interface {
	Fetch(ctx context.Context, url string, cfg model.SourceConfig) ([]model.Article, error)
}

// Registry はデータソースの種類に応じたFetcherを選択する。
type Registry struct {
	feed  Fetcher
	web   Fetcher
	agent Fetcher
}

// NewRegistry はRegistryを生成する。
func NewRegistry(feed, web, agent Fetcher) *Registry {
	return &Registry{feed: feed, web: web, agent: agent}
}

// For はソースに対応するFetcherを返す。
// webソースで use_agent が有効な場合はエージェント取得を選ぶ。
// 未対応の種類はmodel.PermanentErrorを返す。
func (r *Registry) For(src *model.Source) (Fetcher, error) {
	switch src.Kind {
	case model.SourceKindRSS:
		return r.feed, nil
	case model.SourceKindWeb:
		if src.Config.Bool(model.ConfigUseAgent, false) {
			return r.agent, nil
		}
		return r.web, nil
	default:
		return nil, model.Permanent(fmt.Errorf("%w: %s", model.ErrUnsupportedKind, src.Kind))
	}
}

// Agent はエージェント取得のFetcherを返す。任意URLの手動取得で使う。
func (r *Registry) Agent() Fetcher {
	return r.agent
}
