package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/feedharvest/internal/metrics"
)

// RobotsAgent はrobots.txtのUser-agent行と照合する名前。
// robotstxtは前方一致で照合するため、ブラウザ互換のUser-Agent文字列ではなく製品名を使う。
const RobotsAgent = "FeedHarvest"

// robotsEntry はホスト単位のキャッシュエントリ。dataがnilの場合は制限なしを表す。
type robotsEntry struct {
	data      *robotstxt.RobotsData
	expiresAt time.Time
}

// RobotsChecker はrobots.txtによるアクセス可否を判定する。
// 取得結果はホスト単位でTTLの間キャッシュし、同一ホストへの同時問い合わせは1回にまとめる。
type RobotsChecker struct {
	http    *HTTPClient
	ttl     time.Duration
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]robotsEntry
	group singleflight.Group

	now func() time.Time
}

// NewRobotsChecker はRobotsCheckerを生成する。
func NewRobotsChecker(client *HTTPClient, ttl, timeout time.Duration, mc metrics.MetricsCollector, logger *slog.Logger) *RobotsChecker {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &RobotsChecker{
		http:    client,
		ttl:     ttl,
		timeout: timeout,
		metrics: mc,
		logger:  logger,
		cache:   make(map[string]robotsEntry),
		now:     time.Now,
	}
}

// Allowed はrawURLの取得がrobots.txtで許可されているかを返す。
// robots.txtが取得できない、壊れている、5xxを返す場合は許可として扱う。
// 呼び出し元のコンテキストが終了した場合と、ホスト単位の待機が間に合わない場合はエラーを返す。
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	root := u.Scheme + "://" + u.Host

	data, err := r.lookup(ctx, root)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, errHostWait):
		return false, fmt.Errorf("robots.txtを確認できませんでした: %w", err)
	default:
		r.logger.Warn("robots.txtの確認に失敗したため取得を許可します",
			slog.String("host", u.Host),
			slog.String("error", err.Error()),
		)
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	allowed := data.TestAgent(path, RobotsAgent)
	if !allowed {
		r.metrics.RecordRobotsBlocked()
		r.logger.Warn("robots.txtにより取得が禁止されています",
			slog.String("url", rawURL),
		)
	}
	return allowed, nil
}

// lookup はキャッシュまたは取得結果を返す。
// 取得は呼び出し元のキャンセルから切り離して行い、同じホストを待つ他の呼び出し元と結果を共有する。
func (r *RobotsChecker) lookup(ctx context.Context, root string) (*robotstxt.RobotsData, error) {
	r.mu.Lock()
	entry, ok := r.cache[root]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expiresAt) {
		return entry.data, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(root, func() (any, error) {
		data, err := r.fetch(flightCtx, root)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[root] = robotsEntry{data: data, expiresAt: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*robotstxt.RobotsData), nil
	}
}

// fetch はrobots.txtを取得して解析する。戻り値のnilは制限なしを表す。
func (r *RobotsChecker) fetch(ctx context.Context, root string) (*robotstxt.RobotsData, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.http.Do(ctx, root+"/robots.txt")
	if err != nil {
		return nil, err
	}

	// robotstxtは5xxを全面禁止と解釈するが、ここでは一時的な障害として制限なしに倒す
	if resp.StatusCode >= 500 {
		return nil, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("robots.txtの解析に失敗しました: %w", err)
	}
	return data, nil
}
