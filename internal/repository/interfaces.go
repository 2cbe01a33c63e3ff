// Package repository はデータ永続化のインターフェースとSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedharvest/internal/model"
)

// SourceRepository はデータソースの永続化インターフェース。
// 取り込み処理が更新してよいのは統計カラム（RecordFetchResult）のみ。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Source, error)

	// Create はソースを作成する。URLが重複する場合はmodel.ErrDuplicateSourceURLを返す。
	Create(ctx context.Context, src *model.Source) error

	// Update はソースの定義（名前、URL、設定、間隔、有効フラグ）を更新する。統計カラムは変更しない。
	Update(ctx context.Context, src *model.Source) error

	// Delete は指定IDのソースを削除する。
	Delete(ctx context.Context, id string) error

	// ListActive はis_active=trueのソースを作成順に返す。
	ListActive(ctx context.Context) ([]*model.Source, error)

	// ListAll は全ソースを作成順に返す。
	ListAll(ctx context.Context) ([]*model.Source, error)

	// RecordFetchResult はジョブ1件分の統計を原子的に加算する。
	// fetch_countと、成功時はsuccess_count、失敗時はerror_countを1ずつ増やす。
	// ソースが存在しない場合はmodel.ErrSourceNotFoundを返す。
	RecordFetchResult(ctx context.Context, id string, success bool, errMsg string, at time.Time) error

	// Stats は全ソースの集計値を返す。
	Stats(ctx context.Context) (*model.SourceStats, error)
}

// DocumentRepository はドキュメントの永続化インターフェース。
// 取り込み処理からは挿入のみを行う。
type DocumentRepository interface {
	// Create はドキュメントを挿入する。
	// source_urlが既に存在する場合は挿入せずfalseを返す。
	Create(ctx context.Context, doc *model.Document) (bool, error)

	// ExistsBySourceURL はsource_urlが一致するドキュメントが存在するかを返す。
	ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error)

	// FindByID は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// FindBySourceURL はsource_urlでドキュメントを取得する。見つからない場合はnilを返す。
	FindBySourceURL(ctx context.Context, sourceURL string) (*model.Document, error)

	// CountBySourceName はsource_nameごとのドキュメント数を返す。
	CountBySourceName(ctx context.Context, sourceName string) (int64, error)
}

// UnitOfWork は同一トランザクションに束縛されたリポジトリの組。
type UnitOfWork interface {
	Sources() SourceRepository
	Documents() DocumentRepository
}

// Store はリポジトリへのアクセスとトランザクション境界を提供する。
// Sources/Documentsはトランザクション外（自動コミット）で動作する。
type Store interface {
	UnitOfWork

	// InTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	// fn内ではuow経由のリポジトリのみを使用すること。
	InTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}
