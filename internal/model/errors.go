package model

import (
	"errors"
	"fmt"
)

// 取り込み処理のセンチネルエラー
var (
	// ErrSourceNotFound は指定IDのデータソースが存在しないことを示す。
	ErrSourceNotFound = errors.New("source not found")
	// ErrSourceInactive はデータソースが無効化されていることを示す。
	ErrSourceInactive = errors.New("source is inactive")
	// ErrDuplicateSourceURL は同一URLのデータソースが既に登録済みであることを示す。
	ErrDuplicateSourceURL = errors.New("source url already registered")
	// ErrJobAlreadyQueued は同一ソースのジョブが待機中または実行中であることを示す。
	ErrJobAlreadyQueued = errors.New("fetch job already queued for source")
	// ErrQueueFull はジョブキューが満杯であることを示す。
	ErrQueueFull = errors.New("fetch queue is full")
	// ErrUnsupportedKind は取得方式が未対応であることを示す。
	ErrUnsupportedKind = errors.New("unsupported source kind")
)

// PermanentError はリトライしても解消しない失敗（設定誤り等）を表す。
type PermanentError struct {
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap は元のエラーを返す。
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent はerrをリトライ不要なエラーとしてラップする。nilはnilのまま返す。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent はerrがリトライ不要なエラーかを判定する。
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// APIError は統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, source, fetch, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSourceNotFound = "SOURCE_NOT_FOUND"
	ErrCodeSourceInactive = "SOURCE_INACTIVE"
	ErrCodeAlreadyQueued  = "FETCH_ALREADY_QUEUED"
	ErrCodeQueueFull      = "FETCH_QUEUE_FULL"
	ErrCodeInvalidURL     = "INVALID_URL"
	ErrCodeInvalidBody    = "INVALID_REQUEST_BODY"
	ErrCodeFetchFailed    = "FETCH_FAILED"
)

// NewSourceNotFoundError はデータソース未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたデータソースが見つかりません: %s", sourceID),
		Category: "source",
		Action:   "データソースIDを確認してください。",
	}
}

// NewSourceInactiveError は無効化されたデータソースへの手動取得エラーを生成する。
func NewSourceInactiveError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceInactive,
		Message:  fmt.Sprintf("データソースは無効化されています: %s", sourceID),
		Category: "source",
		Action:   "データソースを有効化してから再度実行してください。",
	}
}

// NewAlreadyQueuedError は取得ジョブが既にキューにある場合のエラーを生成する。
func NewAlreadyQueuedError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyQueued,
		Message:  fmt.Sprintf("このデータソースの取得は既に実行待ちです: %s", sourceID),
		Category: "fetch",
		Action:   "現在の取得が完了するまでお待ちください。",
	}
}

// NewQueueFullError はジョブキュー満杯エラーを生成する。
func NewQueueFullError() *APIError {
	return &APIError{
		Code:     ErrCodeQueueFull,
		Message:  "取得キューが満杯です。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewInvalidBodyError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBody,
		Message:  "リクエストボディを解析できません。",
		Category: "validation",
		Action:   "JSON形式で url（必須）と query（任意）を指定してください。",
	}
}

// NewFetchFailedError は取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "fetch",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}
