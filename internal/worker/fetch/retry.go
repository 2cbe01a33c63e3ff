package fetch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// defaultRetryBaseDelay はリトライ間隔の基準値。n回目の失敗後は基準値×nだけ待つ。
	defaultRetryBaseDelay = 60 * time.Second
	// defaultMaxAttempts は1ジョブあたりの最大試行回数（初回を含む）。
	defaultMaxAttempts = 3
)

// RetryPolicy は線形に間隔を伸ばすリトライ方針。backoff.BackOffを実装する。
// n回目の失敗後に BaseDelay×n 待ち、MaxAttempts回失敗したら打ち切る。
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int
	// Completed はこのポリシーを使い始める前に失敗済みの試行回数。
	Completed int

	failures int
}

var _ backoff.BackOff = (*RetryPolicy)(nil)

// NewRetryPolicy はRetryPolicyを生成する。0以下の値はデフォルト値に置き換える。
func NewRetryPolicy(baseDelay time.Duration, maxAttempts int) *RetryPolicy {
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &RetryPolicy{BaseDelay: baseDelay, MaxAttempts: maxAttempts}
}

// Delay はn回目の失敗後の待機時間を返す。
func (p *RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay * time.Duration(n)
}

// NextBackOff は失敗1回ごとに呼ばれ、次の試行までの待機時間を返す。
// 試行回数が上限に達した場合はbackoff.Stopを返す。
func (p *RetryPolicy) NextBackOff() time.Duration {
	p.failures++
	if p.failures >= p.MaxAttempts {
		return backoff.Stop
	}
	return p.Delay(p.failures)
}

// Reset は失敗回数をCompletedに戻す。
func (p *RetryPolicy) Reset() {
	p.failures = p.Completed
}
