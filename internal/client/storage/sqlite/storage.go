// Package sqlite implements the local mirror of remote collections, the
// durable mutation queue and the resync bookkeeping on top of SQLite.
//
// Mirror tables are created lazily from the first record written to them.
// Reserved tables (prefixed with "_") are created by embedded migrations and
// are never touched by the table eviction path.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/sqlitedb"
	"github.com/iudanet/gophsync/internal/validation"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Reserved tables of the local store.
const (
	tableQueue       = "_operation_queue"
	tableQueueParams = "_operation_queue_params"
	tableSyncTimes   = "_last_sync_times"
	tableGoose       = "goose_db_version"
)

// Options configure the local store
type Options struct {
	Logger  *slog.Logger
	Indexes map[string][]storage.IndexSpec // Indexes объявленные индексы по имени таблицы
}

// Storage represents SQLite storage implementation of the local mirror
type Storage struct {
	db      *sql.DB
	logger  *slog.Logger
	indexes map[string][]storage.IndexSpec
	schemas map[string]*Schema // кэш схем таблиц, сбрасывается при drop
	locks   map[string]*sync.Mutex
	mu      sync.Mutex // защищает schemas и locks
}

var _ storage.Storage = (*Storage)(nil)

// New creates a new SQLite storage instance
// dbPath is the path to the SQLite database file
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string, opts Options) (*Storage, error) {
	db, err := sqlitedb.Open(ctx, dbPath, sqlitedb.SubFS(embedMigrations, "migrations"))
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Storage{
		db:      db,
		logger:  logger,
		indexes: opts.Indexes,
		schemas: make(map[string]*Schema),
		locks:   make(map[string]*sync.Mutex),
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}

// lockTable захватывает мьютекс таблицы: DDL, upsert и drop одной таблицы
// не должны перемежаться. Возвращает функцию освобождения.
func (s *Storage) lockTable(table string) func() {
	s.mu.Lock()
	m, ok := s.locks[table]
	if !ok {
		m = &sync.Mutex{}
		s.locks[table] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// isReserved сообщает, что имя занято служебной таблицей
func isReserved(table string) bool {
	return strings.HasPrefix(table, validation.ReservedPrefix) ||
		strings.HasPrefix(table, "sqlite_") ||
		table == tableGoose
}

// checkTable проверяет имя таблицы зеркала перед подстановкой в SQL
func checkTable(table string) error {
	if isReserved(table) {
		return fmt.Errorf("%w: %s", storage.ErrReservedTable, table)
	}
	if err := validation.ValidateCollection(table); err != nil {
		return err
	}
	return nil
}
