package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/feedharvest/internal/model"
)

var documentColumns = []string{
	"id", "title", "content", "summary",
	"source_type", "source_url", "source_name",
	"tags", "metadata", "is_processed", "is_vectorized",
	"created_at", "updated_at",
}

// SQLDocumentRepo はdatabase/sqlとsquirrelを使用したドキュメントリポジトリ。
type SQLDocumentRepo struct {
	db DBTX
	sb sq.StatementBuilderType
}

var _ DocumentRepository = (*SQLDocumentRepo)(nil)

// NewSQLDocumentRepo はSQLDocumentRepoを生成する。
func NewSQLDocumentRepo(db DBTX, driver string) *SQLDocumentRepo {
	return &SQLDocumentRepo{db: db, sb: StatementBuilder(driver)}
}

// Create はドキュメントを挿入する。
// source_urlの一意制約に衝突した場合は挿入せずfalseを返す。
func (r *SQLDocumentRepo) Create(ctx context.Context, doc *model.Document) (bool, error) {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return false, fmt.Errorf("タグのエンコードに失敗しました: %w", err)
	}
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("メタデータのエンコードに失敗しました: %w", err)
	}

	query, args, err := r.sb.Insert("documents").Columns(documentColumns...).Values(
		doc.ID, doc.Title, doc.Content, doc.Summary,
		doc.SourceType, doc.SourceURL, doc.SourceName,
		string(tagsJSON), string(metaJSON), doc.IsProcessed, doc.IsVectorized,
		doc.CreatedAt, doc.UpdatedAt,
	).Suffix("ON CONFLICT (source_url) DO NOTHING").ToSql()
	if err != nil {
		return false, fmt.Errorf("ドキュメント作成クエリの構築に失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("ドキュメントの作成に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// ExistsBySourceURL はsource_urlが一致するドキュメントが存在するかを返す。
func (r *SQLDocumentRepo) ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error) {
	query, args, err := r.sb.Select("1").From("documents").
		Where(sq.Eq{"source_url": sourceURL}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("存在確認クエリの構築に失敗しました: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ドキュメントの存在確認に失敗しました: %w", err)
	}
	return true, nil
}

// FindByID は指定IDのドキュメントを取得する。見つからない場合はnilを返す。
func (r *SQLDocumentRepo) FindByID(ctx context.Context, id string) (*model.Document, error) {
	doc, err := r.findOne(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗しました: %w", err)
	}
	return doc, nil
}

// FindBySourceURL はsource_urlでドキュメントを取得する。見つからない場合はnilを返す。
func (r *SQLDocumentRepo) FindBySourceURL(ctx context.Context, sourceURL string) (*model.Document, error) {
	doc, err := r.findOne(ctx, sq.Eq{"source_url": sourceURL})
	if err != nil {
		return nil, fmt.Errorf("source_urlによるドキュメントの検索に失敗しました: %w", err)
	}
	return doc, nil
}

// CountBySourceName はsource_nameごとのドキュメント数を返す。
func (r *SQLDocumentRepo) CountBySourceName(ctx context.Context, sourceName string) (int64, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("documents").
		Where(sq.Eq{"source_name": sourceName}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("件数クエリの構築に失敗しました: %w", err)
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ドキュメント件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (r *SQLDocumentRepo) findOne(ctx context.Context, where sq.Eq) (*model.Document, error) {
	query, args, err := r.sb.Select(documentColumns...).From("documents").Where(where).ToSql()
	if err != nil {
		return nil, err
	}

	doc := &model.Document{}
	var tagsJSON, metaJSON string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.Summary,
		&doc.SourceType, &doc.SourceURL, &doc.SourceName,
		&tagsJSON, &metaJSON, &doc.IsProcessed, &doc.IsVectorized,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
			return nil, fmt.Errorf("タグのデコードに失敗しました: %w", err)
		}
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("メタデータのデコードに失敗しました: %w", err)
		}
	}

	return doc, nil
}
