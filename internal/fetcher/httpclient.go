package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hitoshi/feedharvest/internal/metrics"
	"github.com/hitoshi/feedharvest/internal/model"
	"github.com/hitoshi/feedharvest/internal/security"
)

// Response は取得したHTTPレスポンス。Bodyはサイズ制限内で読み切った生のバイト列。
type Response struct {
	// URL はリダイレクト後の最終URL。相対リンクの解決に使う。
	URL         *url.URL
	StatusCode  int
	ContentType string
	Body        []byte
}

// UTF8Body はContent-Typeとmetaタグから文字コードを判定し、UTF-8に変換した本文を返す。
// HTMLページ向け。XMLフィードはgofeed側で宣言された文字コードを解釈するため使わない。
func (r *Response) UTF8Body() ([]byte, error) {
	reader, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
	if err != nil {
		return nil, fmt.Errorf("文字コードの判定に失敗しました: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("文字コードの変換に失敗しました: %w", err)
	}
	return body, nil
}

// HTTPClient は全フェッチャーが共有するHTTPクライアント。
// URL検証、ホスト単位のレート制限、サイズ上限、User-Agent付与をまとめて行う。
type HTTPClient struct {
	client     *http.Client
	guard      *security.URLGuard
	politeness *Politeness
	userAgent  string
	maxSize    int64
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewHTTPClient はHTTPClientを生成する。
// politenessとmetricsはnilでもよい。
func NewHTTPClient(
	guard *security.URLGuard,
	politeness *Politeness,
	timeout time.Duration,
	maxSize int64,
	userAgent string,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *HTTPClient {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &HTTPClient{
		client:     guard.NewClient(timeout),
		guard:      guard,
		politeness: politeness,
		userAgent:  userAgent,
		maxSize:    maxSize,
		metrics:    mc,
		logger:     logger,
	}
}

// UserAgent は送信するUser-Agentを返す。
func (c *HTTPClient) UserAgent() string {
	return c.userAgent
}

// Do はGETリクエストを送信し、ステータスコードに関わらずレスポンスを返す。
// URLが不正な場合は再試行しても解消しないため、model.PermanentErrorを返す。
func (c *HTTPClient) Do(ctx context.Context, rawURL string) (*Response, error) {
	if err := c.guard.ValidateURL(rawURL); err != nil {
		return nil, model.Permanent(fmt.Errorf("URL検証に失敗しました: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.Permanent(fmt.Errorf("リクエスト作成に失敗しました: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	if c.politeness != nil {
		if err := c.politeness.Wait(ctx, req.URL.Host); err != nil {
			return nil, err
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPStatus(resp.StatusCode)

	// 上限を1バイト超えて読めた場合はサイズ超過と判定する
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("レスポンスサイズが上限 %d バイトを超えています: %s", c.maxSize, rawURL)
	}

	return &Response{
		URL:         resp.Request.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Get はGETリクエストを送信し、2xx以外のステータスをエラーとして返す。
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := c.Do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("予期しないHTTPステータスです",
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("HTTPステータス %d が返されました: %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}
