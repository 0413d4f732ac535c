// Package boltdb keeps the small key-value state of the client: the backend
// session and the status of the latest reconciliation pass.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketAuth     = []byte("auth")
	bucketMetadata = []byte("metadata")

	buckets = [][]byte{bucketAuth, bucketMetadata}
)

// LockTimeout сколько ждать файл, занятый другим процессом клиента
const LockTimeout = time.Second

// ErrLocked файл сессии открыт другим процессом
var ErrLocked = errors.New("session database is used by another gophsync process")

// Storage сессия и статус синхронизации в одном файле bbolt
type Storage struct {
	db *bbolt.DB
}

// New открывает (или создает) файл и все bucket'ы клиента
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: LockTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dbPath)
		}
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

// Close закрывает файл; повторный вызов ничего не делает
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
