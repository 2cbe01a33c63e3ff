package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/security"
)

const (
	defaultTitleSelector   = "h1, title"
	defaultContentSelector = "article, .content, main, .post-content"
	defaultLinkSelector    = "a"
	defaultMaxLinks        = 10

	// noiseSelector は本文抽出前に取り除く要素。
	noiseSelector = "script, style, nav, footer, aside"
)

// metaNames はページから抽出するmetaタグ。published_timeは2つの名前を順に探す。
var metaNames = []struct {
	key   string
	names []string
}{
	{"description", []string{"description"}},
	{"keywords", []string{"keywords"}},
	{"author", []string{"author"}},
	{"published_time", []string{"article:published_time", "og:published_time"}},
}

// WebFetcher は任意のWebページから本文を抽出する。
// list_mode が有効な場合は一覧ページのリンクを辿り、各ページを単一ページとして取得する。
type WebFetcher struct {
	http       *HTTPClient
	robots     *RobotsChecker
	politeness *Politeness
	logger     *slog.Logger
}

var _ Fetcher = (*WebFetcher)(nil)

// NewWebFetcher はWebFetcherを生成する。
func NewWebFetcher(client *HTTPClient, robots *RobotsChecker, politeness *Politeness, logger *slog.Logger) *WebFetcher {
	return &WebFetcher{
		http:       client,
		robots:     robots,
		politeness: politeness,
		logger:     logger,
	}
}

// Fetch は単一ページモードでは0件または1件、一覧モードでは最大max_links件の記事を返す。
func (f *WebFetcher) Fetch(ctx context.Context, rawURL string, cfg model.SourceConfig) ([]model.Article, error) {
	if err := validateSelectors(cfg); err != nil {
		return nil, err
	}

	if cfg.Bool(model.ConfigListMode, false) {
		return f.fetchList(ctx, rawURL, cfg)
	}

	article, err := f.FetchPage(ctx, rawURL, cfg)
	if err != nil {
		return nil, err
	}
	if article == nil {
		return nil, nil
	}
	return []model.Article{*article}, nil
}

// FetchPage は1ページを取得して記事を抽出する。
// robots.txtで禁止されている場合と、タイトルも本文も取れなかった場合はnilを返す。
func (f *WebFetcher) FetchPage(ctx context.Context, rawURL string, cfg model.SourceConfig) (*model.Article, error) {
	ok, err := f.allowed(ctx, rawURL, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	doc, _, err := f.getDocument(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	article := extractArticle(doc, rawURL, cfg)

	if err := f.politeness.Delay(ctx, model.SourceKindWeb, cfg); err != nil {
		return nil, err
	}

	if article.Title == "" && article.Content == "" {
		f.logger.Warn("ページから本文を抽出できませんでした",
			slog.String("url", rawURL),
		)
		return nil, nil
	}
	return article, nil
}

func (f *WebFetcher) fetchList(ctx context.Context, rawURL string, cfg model.SourceConfig) ([]model.Article, error) {
	ok, err := f.allowed(ctx, rawURL, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	doc, base, err := f.getDocument(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("一覧ページの取得に失敗しました: %w", err)
	}
	if err := f.politeness.Delay(ctx, model.SourceKindWeb, cfg); err != nil {
		return nil, err
	}

	linkSel := cfg.String(model.ConfigLinkSelector)
	if linkSel == "" {
		linkSel = defaultLinkSelector
	}
	maxLinks := cfg.Int(model.ConfigMaxLinks, defaultMaxLinks)
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}

	links := collectLinks(doc, base, linkSel, maxLinks)

	articles := make([]model.Article, 0, len(links))
	for _, link := range links {
		article, err := f.FetchPage(ctx, link, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("子ページの取得に失敗したためスキップします",
				slog.String("list_url", rawURL),
				slog.String("url", link),
				slog.String("error", err.Error()),
			)
			continue
		}
		if article != nil {
			articles = append(articles, *article)
		}
	}

	f.logger.Info("一覧ページの取得が完了しました",
		slog.String("url", rawURL),
		slog.Int("links", len(links)),
		slog.Int("articles", len(articles)),
	)
	return articles, nil
}

func (f *WebFetcher) allowed(ctx context.Context, rawURL string, cfg model.SourceConfig) (bool, error) {
	if !cfg.Bool(model.ConfigRespectRobots, true) {
		return true, nil
	}
	return f.robots.Allowed(ctx, rawURL)
}

// getDocument はページを取得してUTF-8に変換し、goqueryのドキュメントを返す。
func (f *WebFetcher) getDocument(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	resp, err := f.http.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}

	body, err := resp.UTF8Body()
	if err != nil {
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("HTMLのパースに失敗しました: %w", err)
	}
	return doc, resp.URL, nil
}

// validateSelectors は設定されたCSSセレクタを検証する。
// 構文誤りは再試行しても直らないためmodel.PermanentErrorとする。
func validateSelectors(cfg model.SourceConfig) error {
	for _, key := range []string{model.ConfigTitleSelector, model.ConfigContentSelector, model.ConfigLinkSelector} {
		sel := cfg.String(key)
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return model.Permanent(fmt.Errorf("%s の値 %q が不正です: %w", key, sel, err))
		}
	}
	return nil
}

// extractArticle はドキュメントからタイトル、本文、metaタグを抽出する。
func extractArticle(doc *goquery.Document, rawURL string, cfg model.SourceConfig) *model.Article {
	titleSel := cfg.String(model.ConfigTitleSelector)
	if titleSel == "" {
		titleSel = defaultTitleSelector
	}
	contentSel := cfg.String(model.ConfigContentSelector)
	if contentSel == "" {
		contentSel = defaultContentSelector
	}

	title := security.CleanText(doc.Find(titleSel).First().Text())
	if title == "" {
		title = security.CleanText(doc.Find("title").First().Text())
	}

	var content string
	if body := doc.Find(contentSel).First(); body.Length() > 0 {
		body.Find(noiseSelector).Remove()
		content = nodeText(body.Nodes)
	} else {
		content = nodeText(doc.Find("p").Nodes)
	}
	content = security.CleanText(content)

	meta := extractMeta(doc)

	article := &model.Article{
		Title:   title,
		Content: content,
		Link:    rawURL,
		Author:  meta["author"],
	}
	if published := meta["published_time"]; published != "" {
		article.Published = published
		if t, err := time.Parse(time.RFC3339, published); err == nil {
			article.PublishedAt = &t
		}
	}
	if len(meta) > 0 {
		m := make(map[string]any, len(meta))
		for k, v := range meta {
			m[k] = v
		}
		article.Metadata = map[string]any{"meta": m}
	}
	return article
}

func extractMeta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	for _, m := range metaNames {
		for _, name := range m.names {
			v := metaContent(doc, name)
			if v != "" {
				meta[m.key] = v
				break
			}
		}
	}
	return meta
}

func metaContent(doc *goquery.Document, name string) string {
	sel := doc.Find(`meta[name="` + name + `"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find(`meta[property="` + name + `"]`).First()
	}
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

// nodeText はノード配下のテキストを空白区切りで連結する。
// goqueryのText()は要素の境界で単語が連結されてしまうため自前で辿る。
func nodeText(nodes []*html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// collectLinks は一覧ページからリンクを文書順に集める。
// 相対URLを解決し、http(s)以外とフラグメント違いの重複を除いて最大limit件を返す。
func collectLinks(doc *goquery.Document, base *url.URL, selector string, limit int) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}

		u, err := base.Parse(href)
		if err != nil {
			return true
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return true
		}
		u.Fragment = ""

		link := u.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		links = append(links, link)
		return len(links) < limit
	})

	return links
}
