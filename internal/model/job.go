package model

import "time"

// FetchJob はキュー上の取得ジョブ。メモリ上にのみ存在する。
type FetchJob struct {
	SourceID string
	// Attempt は既に実行した試行回数。新規ジョブは0で、Dispatcherは続きから数える。
	Attempt    int
	EnqueuedAt time.Time
	// Manual は手動トリガーによるジョブであることを示す。取得間隔の判定を経由しない。
	Manual bool
}

// JobStatus はジョブの最終結果。
type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusSkipped JobStatus = "skipped"
	JobStatusFailed  JobStatus = "failed"
)

// スキップ理由
const (
	SkipReasonNotFound    = "source not found"
	SkipReasonInactive    = "inactive"
	SkipReasonUnsupported = "unsupported"
)

// JobResult はジョブ1件の実行結果。
type JobResult struct {
	SourceID      string    `json:"source_id,omitempty"`
	Status        JobStatus `json:"status"`
	ArticlesFound int       `json:"articles_found"`
	ArticlesSaved int       `json:"articles_saved"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts"`
	Err           error     `json:"-"`
}

// ErrorMessage はエラーメッセージを返す。エラーがない場合は空文字列。
func (r JobResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
