package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/feedharvest/internal/model"
)

var sourceColumns = []string{
	"id", "name", "description", "kind", "url", "config",
	"fetch_interval_seconds", "is_active",
	"fetch_count", "success_count", "error_count",
	"last_fetch", "last_success", "last_error",
	"created_at", "updated_at",
}

// SQLSourceRepo はdatabase/sqlとsquirrelを使用したソースリポジトリ。
type SQLSourceRepo struct {
	db DBTX
	sb sq.StatementBuilderType
}

var _ SourceRepository = (*SQLSourceRepo)(nil)

// NewSQLSourceRepo はSQLSourceRepoを生成する。
func NewSQLSourceRepo(db DBTX, driver string) *SQLSourceRepo {
	return &SQLSourceRepo{db: db, sb: StatementBuilder(driver)}
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *SQLSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	src, err := r.findOne(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("データソースの取得に失敗しました: %w", err)
	}
	return src, nil
}

// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
func (r *SQLSourceRepo) FindByURL(ctx context.Context, url string) (*model.Source, error) {
	src, err := r.findOne(ctx, sq.Eq{"url": url})
	if err != nil {
		return nil, fmt.Errorf("URLによるデータソースの検索に失敗しました: %w", err)
	}
	return src, nil
}

func (r *SQLSourceRepo) findOne(ctx context.Context, where sq.Eq) (*model.Source, error) {
	query, args, err := r.sb.Select(sourceColumns...).From("sources").Where(where).ToSql()
	if err != nil {
		return nil, err
	}

	src, err := scanSource(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Create はソースを作成する。
func (r *SQLSourceRepo) Create(ctx context.Context, src *model.Source) error {
	cfg, err := marshalConfig(src.Config)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Insert("sources").Columns(sourceColumns...).Values(
		src.ID, src.Name, src.Description, string(src.Kind), src.URL, cfg,
		int64(src.FetchInterval/time.Second), src.IsActive,
		src.FetchCount, src.SuccessCount, src.ErrorCount,
		src.LastFetch, src.LastSuccess, src.LastError,
		src.CreatedAt, src.UpdatedAt,
	).ToSql()
	if err != nil {
		return fmt.Errorf("データソース作成クエリの構築に失敗しました: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateSourceURL, src.URL)
		}
		return fmt.Errorf("データソースの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はソースの定義を更新する。統計カラムは変更しない。
func (r *SQLSourceRepo) Update(ctx context.Context, src *model.Source) error {
	cfg, err := marshalConfig(src.Config)
	if err != nil {
		return err
	}

	query, args, err := r.sb.Update("sources").
		Set("name", src.Name).
		Set("description", src.Description).
		Set("kind", string(src.Kind)).
		Set("url", src.URL).
		Set("config", cfg).
		Set("fetch_interval_seconds", int64(src.FetchInterval/time.Second)).
		Set("is_active", src.IsActive).
		Set("updated_at", src.UpdatedAt).
		Where(sq.Eq{"id": src.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("データソース更新クエリの構築に失敗しました: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", model.ErrDuplicateSourceURL, src.URL)
		}
		return fmt.Errorf("データソースの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのソースを削除する。
func (r *SQLSourceRepo) Delete(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("データソース削除クエリの構築に失敗しました: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("データソースの削除に失敗しました: %w", err)
	}
	return nil
}

// ListActive はis_active=trueのソースを作成順に返す。
func (r *SQLSourceRepo) ListActive(ctx context.Context) ([]*model.Source, error) {
	sources, err := r.list(ctx, sq.Eq{"is_active": true})
	if err != nil {
		return nil, fmt.Errorf("アクティブなデータソースの取得に失敗しました: %w", err)
	}
	return sources, nil
}

// ListAll は全ソースを作成順に返す。
func (r *SQLSourceRepo) ListAll(ctx context.Context) ([]*model.Source, error) {
	sources, err := r.list(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("データソース一覧の取得に失敗しました: %w", err)
	}
	return sources, nil
}

func (r *SQLSourceRepo) list(ctx context.Context, where sq.Sqlizer) ([]*model.Source, error) {
	b := r.sb.Select(sourceColumns...).From("sources").OrderBy("created_at ASC", "id ASC")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// RecordFetchResult はジョブ1件分の統計を原子的に加算する。
// 加算はSQL側の式で行うため、同時に複数の更新が走ってもカウンタは失われない。
func (r *SQLSourceRepo) RecordFetchResult(ctx context.Context, id string, success bool, errMsg string, at time.Time) error {
	b := r.sb.Update("sources").
		Set("fetch_count", sq.Expr("fetch_count + 1")).
		Set("last_fetch", at).
		Set("updated_at", at)

	if success {
		b = b.Set("success_count", sq.Expr("success_count + 1")).
			Set("last_success", at).
			Set("last_error", "")
	} else {
		b = b.Set("error_count", sq.Expr("error_count + 1")).
			Set("last_error", errMsg)
	}

	query, args, err := b.Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("統計更新クエリの構築に失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("データソース統計の更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrSourceNotFound, id)
	}
	return nil
}

// Stats は全ソースの集計値を返す。
func (r *SQLSourceRepo) Stats(ctx context.Context) (*model.SourceStats, error) {
	query, args, err := r.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(fetch_count), 0)",
		"COALESCE(SUM(success_count), 0)",
		"COALESCE(SUM(error_count), 0)",
	).From("sources").ToSql()
	if err != nil {
		return nil, fmt.Errorf("集計クエリの構築に失敗しました: %w", err)
	}

	stats := &model.SourceStats{ByKind: make(map[string]int64)}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Active,
		&stats.FetchCount, &stats.SuccessCount, &stats.ErrorCount,
	); err != nil {
		return nil, fmt.Errorf("データソース統計の集計に失敗しました: %w", err)
	}

	query, args, err = r.sb.Select("kind", "COUNT(*)").From("sources").GroupBy("kind").ToSql()
	if err != nil {
		return nil, fmt.Errorf("集計クエリの構築に失敗しました: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("種別ごとの集計に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("種別ごとの集計の読み取りに失敗しました: %w", err)
		}
		stats.ByKind[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("種別ごとの集計の読み取りに失敗しました: %w", err)
	}

	return stats, nil
}

// scanSource は1行をmodel.Sourceに変換する。
func scanSource(sc rowScanner) (*model.Source, error) {
	src := &model.Source{}
	var kind, cfg string
	var intervalSec int64
	var lastFetch, lastSuccess sql.NullTime

	if err := sc.Scan(
		&src.ID, &src.Name, &src.Description, &kind, &src.URL, &cfg,
		&intervalSec, &src.IsActive,
		&src.FetchCount, &src.SuccessCount, &src.ErrorCount,
		&lastFetch, &lastSuccess, &src.LastError,
		&src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}

	src.Kind = model.SourceKind(kind)
	src.FetchInterval = time.Duration(intervalSec) * time.Second
	if lastFetch.Valid {
		t := lastFetch.Time
		src.LastFetch = &t
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		src.LastSuccess = &t
	}
	if cfg != "" {
		if err := json.Unmarshal([]byte(cfg), &src.Config); err != nil {
			return nil, fmt.Errorf("データソース設定のデコードに失敗しました（id=%s）: %w", src.ID, err)
		}
	}

	return src, nil
}

// marshalConfig は設定をJSON文字列に変換する。nilは "{}" として保存する。
func marshalConfig(cfg model.SourceConfig) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("データソース設定のエンコードに失敗しました: %w", err)
	}
	return string(b), nil
}
