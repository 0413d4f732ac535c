// Package queue implements the durable queue of offline mutations and its
// replay against the remote backend.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/clock"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
)

//go:generate moq -out remote_mock.go . Remote

// Remote операции backend'а, которыми воспроизводятся мутации
type Remote interface {
	Create(ctx context.Context, collection string, fields map[string]any) (models.Record, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) (models.Record, error)
	Delete(ctx context.Context, collection, id string) error
}

// Store хранилище очереди и зеркало, которое правится по итогам воспроизведения
type Store interface {
	storage.QueueStorage
	Upsert(ctx context.Context, table string, records []models.Record) (storage.UpsertResult, error)
	DeleteRecord(ctx context.Context, table, id string) error
}

// Service очередь отложенных мутаций
type Service struct {
	store  Store
	remote Remote
	clock  *clock.Clock
	logger *slog.Logger
	group  singleflight.Group
}

// NewService создает очередь мутаций
func NewService(store Store, remote Remote, clk *clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store:  store,
		remote: remote,
		clock:  clk,
		logger: logger,
	}
}

// Restore сдвигает часы очереди не ниже записей, оставшихся с прошлого запуска
func (s *Service) Restore(ctx context.Context) error {
	last, err := s.store.MaxOperationCreated(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore queue clock: %w", err)
	}
	s.clock.Observe(last)
	return nil
}

// Enqueue сохраняет мутацию до любой сетевой попытки.
// После возврата мутация переживает падение процесса.
// Значения неизвестного вида пропускаются с записью в лог.
func (s *Service) Enqueue(ctx context.Context, op models.OperationType, collection, idToModify string, fields map[string]any) (int64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("unknown operation type %q", op)
	}
	if err := validation.ValidateCollection(collection); err != nil {
		return 0, err
	}
	if op != models.OperationInsert && idToModify == "" {
		return 0, fmt.Errorf("%s requires a record id", op)
	}

	entry := &models.QueueEntry{
		Type:       op,
		Collection: collection,
		IDToModify: idToModify,
		Params:     s.encodeParams(fields),
		Created:    s.clock.Tick(),
	}

	id, err := s.store.EnqueueOperation(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s: %w", op, err)
	}

	s.logger.Debug("Mutation queued",
		"operation_id", id,
		"type", op,
		"collection", collection,
		"id", entry.TargetID())

	return id, nil
}

func (s *Service) encodeParams(fields map[string]any) []models.QueueParam {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	params := make([]models.QueueParam, 0, len(keys))
	for _, k := range keys {
		p, err := models.EncodeParam(k, fields[k])
		if err != nil {
			s.logger.Error("Omitting queued field", "field", k, "error", err)
			continue
		}
		params = append(params, p)
	}
	return params
}

// Drain воспроизводит очередь по порядку created и возвращает число
// разобранных записей (успешных и отброшенных).
// Параллельные вызовы разделяют один проход.
func (s *Service) Drain(ctx context.Context) (int, error) {
	v, err, shared := s.group.Do("drain", func() (any, error) {
		return s.drain(ctx)
	})
	if shared {
		s.logger.Debug("Joined in-flight queue drain")
	}
	n, _ := v.(int)
	return n, err
}

func (s *Service) drain(ctx context.Context) (int, error) {
	entries, err := s.store.ListOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list queued operations: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	s.logger.Info("Draining mutation queue", "pending", len(entries))

	drained := 0
	for i := range entries {
		entry := &entries[i]

		err := s.replay(ctx, entry)
		if err != nil && api.IsNetworkError(err) {
			// связи нет: запись остается, остаток прохода откладывается
			s.logger.Warn("Queue drain interrupted by network error",
				"operation_id", entry.ID,
				"remaining", len(entries)-i,
				"error", err)
			return drained, nil
		}

		if err != nil {
			s.logger.Error("Queued mutation rejected by backend, discarding",
				"operation_id", entry.ID,
				"type", entry.Type,
				"collection", entry.Collection,
				"id", entry.TargetID(),
				"error", err)
			s.discardLocal(ctx, entry)
		}

		if err := s.store.DeleteOperation(ctx, entry.ID); err != nil && !errors.Is(err, storage.ErrOperationNotFound) {
			return drained, fmt.Errorf("failed to delete operation %d: %w", entry.ID, err)
		}
		drained++
	}

	s.logger.Info("Mutation queue drained", "count", drained)
	return drained, nil
}

// replay выполняет одну мутацию на backend'е
func (s *Service) replay(ctx context.Context, entry *models.QueueEntry) error {
	fields, err := entry.Fields()
	if err != nil {
		return err
	}

	var rec models.Record
	switch entry.Type {
	case models.OperationInsert:
		rec, err = s.remote.Create(ctx, entry.Collection, fields)
	case models.OperationUpdate:
		delete(fields, models.FieldID)
		rec, err = s.remote.Update(ctx, entry.Collection, entry.IDToModify, fields)
	case models.OperationDelete:
		err = s.remote.Delete(ctx, entry.Collection, entry.IDToModify)
	default:
		err = fmt.Errorf("unknown operation type %q", entry.Type)
	}
	if err != nil {
		return err
	}

	// INSERT той же записи, воспроизведенный раньше, мог вернуть строку в зеркало
	if entry.Type == models.OperationDelete {
		if err := s.store.DeleteRecord(ctx, entry.Collection, entry.IDToModify); err != nil {
			s.logger.Warn("Failed to delete replayed record from mirror",
				"collection", entry.Collection,
				"id", entry.IDToModify,
				"error", err)
		}
		return nil
	}

	// ответ backend'а несет created/updated, которых не было в офлайн-копии
	if rec != nil {
		if _, err := s.store.Upsert(ctx, entry.Collection, []models.Record{rec}); err != nil {
			s.logger.Warn("Failed to refresh mirror after replay",
				"collection", entry.Collection,
				"id", rec.ID(),
				"error", err)
		}
	}
	return nil
}

// discardLocal удаляет локальную строку, разошедшуюся с backend'ом
func (s *Service) discardLocal(ctx context.Context, entry *models.QueueEntry) {
	if entry.Type == models.OperationDelete {
		return
	}

	id := entry.TargetID()
	if id == "" {
		return
	}

	if err := s.store.DeleteRecord(ctx, entry.Collection, id); err != nil {
		s.logger.Error("Failed to delete diverged local record",
			"collection", entry.Collection,
			"id", id,
			"error", err)
	}
}

// Pending возвращает число мутаций в очереди
func (s *Service) Pending(ctx context.Context) (int, error) {
	return s.store.CountOperations(ctx)
}

// List возвращает мутации в порядке воспроизведения
func (s *Service) List(ctx context.Context) ([]models.QueueEntry, error) {
	return s.store.ListOperations(ctx)
}
