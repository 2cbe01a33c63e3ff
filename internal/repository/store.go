package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// StatementBuilder はドライバに応じたプレースホルダ形式のsquirrelビルダーを返す。
// postgresは $1, $2 ...、それ以外は ? を使用する。
func StatementBuilder(driver string) sq.StatementBuilderType {
	if driver == "postgres" {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// SQLStore はdatabase/sqlを使用したStoreの実装。
type SQLStore struct {
	db        *sql.DB
	sb        sq.StatementBuilderType
	sources   *SQLSourceRepo
	documents *SQLDocumentRepo
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore はSQLStoreを生成する。driverは "postgres" または "sqlite"。
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	sb := StatementBuilder(driver)
	return &SQLStore{
		db:        db,
		sb:        sb,
		sources:   &SQLSourceRepo{db: db, sb: sb},
		documents: &SQLDocumentRepo{db: db, sb: sb},
	}
}

// Sources はトランザクション外のソースリポジトリを返す。
func (s *SQLStore) Sources() SourceRepository {
	return s.sources
}

// Documents はトランザクション外のドキュメントリポジトリを返す。
func (s *SQLStore) Documents() DocumentRepository {
	return s.documents
}

// InTx はfnを1つのトランザクション内で実行する。
func (s *SQLStore) InTx(ctx context.Context, fn func(uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	uow := &txUnit{
		sources:   &SQLSourceRepo{db: tx, sb: s.sb},
		documents: &SQLDocumentRepo{db: tx, sb: s.sb},
	}

	if err := fn(uow); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// txUnit はトランザクションに束縛されたUnitOfWork。
type txUnit struct {
	sources   *SQLSourceRepo
	documents *SQLDocumentRepo
}

func (u *txUnit) Sources() SourceRepository     { return u.sources }
func (u *txUnit) Documents() DocumentRepository { return u.documents }

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation は一意制約違反のエラーかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
