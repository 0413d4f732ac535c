// Package sqlite implements the reference backend storage: users, refresh
// tokens and schemaless collection records.
package sqlite

import (
	"context"
	"database/sql"
	"embed"

	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/sqlitedb"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage хранилище backend'а поверх одной базы SQLite
type Storage struct {
	db *sql.DB
}

var (
	_ storage.UserStorage   = (*Storage)(nil)
	_ storage.TokenStorage  = (*Storage)(nil)
	_ storage.RecordStorage = (*Storage)(nil)
)

// New открывает базу и применяет миграции схемы backend'а
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sqlitedb.Open(ctx, dbPath, sqlitedb.SubFS(embedMigrations, "migrations"))
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

// Close закрывает базу
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping проверка базы для /api/health
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB доступ к базе для тестов
func (s *Storage) DB() *sql.DB {
	return s.db
}
