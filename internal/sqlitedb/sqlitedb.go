// Package sqlitedb opens SQLite databases of the client and the server
// the same way: one connection, WAL, foreign keys and goose migrations.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

// Pragmas выполняются на каждом новом соединении
var Pragmas = []string{
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
	"PRAGMA foreign_keys = ON;",
	"PRAGMA busy_timeout = 5000;",
}

// Open открывает базу по пути (":memory:" для тестов) и применяет
// миграции из migrations. migrations может быть nil.
func Open(ctx context.Context, path string, migrations fs.FS) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Одно соединение: запись в SQLite все равно сериализуется,
	// а :memory: база живет только в пределах соединения
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range Pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if migrations != nil {
		if err := Migrate(ctx, db, migrations); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}

// Migrate накатывает миграции goose.
// Provider свой на каждый вызов: глобальное состояние goose не
// разделяется между базами клиента и сервера в одном процессе.
func Migrate(ctx context.Context, db *sql.DB, migrations fs.FS) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// SubFS корневой каталог dir внутри встроенной FS
func SubFS(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		// fs.Sub ошибается только на невалидном пути
		panic(fmt.Sprintf("sqlitedb: invalid migrations dir %q: %v", dir, err))
	}
	return sub
}
