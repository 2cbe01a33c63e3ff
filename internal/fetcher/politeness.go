package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/feedharvest/internal/model"
)

// errHostWait はホスト単位のレート制限の待機に失敗したことを表す。
var errHostWait = errors.New("ホスト単位の待機に失敗しました")

// limiterIdleTTL はこの期間使われなかったホストのリミッターを破棄する目安。
const limiterIdleTTL = 10 * time.Minute

// hostLimiter はホストごとのリミッターと最終利用時刻を保持する。
type hostLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Politeness は取得先サーバーへの負荷を抑えるための待機を管理する。
// ホスト単位のレート制限と、取得完了後の固定遅延の2種類がある。
type Politeness struct {
	mu        sync.Mutex
	limiters  map[string]*hostLimiter
	limit     rate.Limit
	idleTTL   time.Duration
	lastSweep time.Time

	feedDelay time.Duration
	webDelay  time.Duration

	now func() time.Time
}

// NewPoliteness はPolitenessを生成する。
// perSecが0以下の場合、ホスト単位のレート制限は行わない。
func NewPoliteness(perSec float64, feedDelay, webDelay time.Duration) *Politeness {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &Politeness{
		limiters:  make(map[string]*hostLimiter),
		limit:     limit,
		idleTTL:   limiterIdleTTL,
		feedDelay: feedDelay,
		webDelay:  webDelay,
		now:       time.Now,
	}
}

// Wait は同一ホストへのリクエスト間隔を空けるまでブロックする。
// 失敗した場合のエラーはerrHostWaitと元のエラーの両方を包む。
func (p *Politeness) Wait(ctx context.Context, host string) error {
	if p.limit == rate.Inf {
		return nil
	}
	if err := p.limiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", errHostWait, host, err)
	}
	return nil
}

// LimiterCount は現在保持しているホスト数を返す。
func (p *Politeness) LimiterCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

func (p *Politeness) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) > p.idleTTL {
		p.cleanup(now)
		p.lastSweep = now
	}

	hl, ok := p.limiters[host]
	if !ok {
		hl = &hostLimiter{limiter: rate.NewLimiter(p.limit, 1)}
		p.limiters[host] = hl
	}
	hl.lastUsed = now
	return hl.limiter
}

// cleanup はidleTTLを超えて使われず、トークンが満たされたリミッターを削除する。
// 呼び出し側でmuを保持していること。
func (p *Politeness) cleanup(now time.Time) {
	for host, hl := range p.limiters {
		if now.Sub(hl.lastUsed) > p.idleTTL && hl.limiter.TokensAt(now) >= 1 {
			delete(p.limiters, host)
		}
	}
}

// DelayFor は取得方式とソース設定から取得後の待機時間を決める。
// 設定のdelay_secondsが0以上であればそちらを優先する。
func (p *Politeness) DelayFor(kind model.SourceKind, cfg model.SourceConfig) time.Duration {
	if secs := cfg.Float(model.ConfigDelaySeconds, -1); secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if kind == model.SourceKindRSS {
		return p.feedDelay
	}
	return p.webDelay
}

// Delay は取得後の待機を行う。コンテキストがキャンセルされた場合は即座に戻る。
func (p *Politeness) Delay(ctx context.Context, kind model.SourceKind, cfg model.SourceConfig) error {
	return sleep(ctx, p.DelayFor(kind, cfg))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
