// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
//
// PostgreSQLはdatabaseURLから専用の接続を開く。
// SQLiteは渡されたdbをそのまま使う（:memory: のスキーマを共有するため）。
// SQLiteの場合、返されたインスタンスのClose()はdbも閉じるため呼び出さないこと。
func NewMigrator(db *sql.DB, driver, databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	switch driver {
	case DriverPostgres:
		m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil

	case DriverSQLite:
		instance, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, DriverSQLite, instance)
		if err != nil {
			return nil, fmt.Errorf("failed to create migrator: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(db *sql.DB, driver, databaseURL string) error {
	m, err := NewMigrator(db, driver, databaseURL)
	if err != nil {
		return err
	}
	if driver == DriverPostgres {
		defer m.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// OpenMigrated はデータベースを開き、マイグレーションを適用した接続を返す。
func OpenMigrated(driver, databaseURL string) (*sql.DB, error) {
	db, err := Open(driver, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := RunMigrations(db, driver, databaseURL); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
