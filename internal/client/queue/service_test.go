package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/storage/sqlite"
	"github.com/iudanet/gophsync/internal/clock"
	"github.com/iudanet/gophsync/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.Storage {
	t.Helper()

	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "cache.db"), sqlite.Options{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func serverRecord(id string, fields map[string]any) models.Record {
	rec := models.Record{
		models.FieldID:      id,
		models.FieldCreated: "2022-08-01 10:00:00.000Z",
		models.FieldUpdated: "2022-08-01 10:00:00.000Z",
	}
	return rec.Merge(fields)
}

func TestEnqueue_PersistsBeforeReturn(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, &RemoteMock{}, clock.New(), testLogger())

	id, err := svc.Enqueue(ctx, models.OperationInsert, "notes", "", map[string]any{
		"id":    "abc",
		"title": "x",
		"done":  false,
		"bad":   make(chan int),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	entries, err := store.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fields, err := entries[0].Fields()
	require.NoError(t, err)
	// поле неизвестного вида пропущено
	assert.Equal(t, map[string]any{"id": "abc", "title": "x", "done": false}, fields)
	assert.Equal(t, "abc", entries[0].TargetID())
}

func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newTestStore(t), &RemoteMock{}, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, "UPSERT", "notes", "", nil)
	require.Error(t, err)

	_, err = svc.Enqueue(ctx, models.OperationUpdate, "notes", "", map[string]any{"a": 1})
	require.Error(t, err)

	_, err = svc.Enqueue(ctx, models.OperationDelete, "_operation_queue", "x", nil)
	require.Error(t, err)
}

func TestDrain_ReplaysInOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var order []string
	remote := &RemoteMock{
		UpdateFunc: func(ctx context.Context, collection, id string, fields map[string]any) (models.Record, error) {
			order = append(order, "update:"+id)
			return serverRecord(id, fields), nil
		},
		DeleteFunc: func(ctx context.Context, collection, id string) error {
			order = append(order, "delete:"+id)
			return nil
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, models.OperationUpdate, "notes", "x", map[string]any{"title": "b"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.OperationDelete, "notes", "x", nil)
	require.NoError(t, err)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	n, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"update:x", "delete:x"}, order)

	require.Len(t, remote.UpdateCalls(), 1)
	assert.Equal(t, map[string]any{"title": "b"}, remote.UpdateCalls()[0].Fields)

	pending, err = svc.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrain_SuccessRefreshesMirror(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	remote := &RemoteMock{
		CreateFunc: func(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
			id, _ := fields["id"].(string)
			return serverRecord(id, fields), nil
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, models.OperationInsert, "notes", "", map[string]any{"id": "abc", "title": "x"})
	require.NoError(t, err)

	n, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, remote.CreateCalls(), 1)
	assert.Equal(t, "notes", remote.CreateCalls()[0].Collection)
	assert.Equal(t, "abc", remote.CreateCalls()[0].Fields["id"])

	rec, err := store.GetRecord(ctx, "notes", "abc")
	require.NoError(t, err)
	assert.Equal(t, "x", rec["title"])
	assert.Equal(t, "2022-08-01 10:00:00.000Z", rec.Created())
}

func TestDrain_ConcurrentCallsReplayOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	remote := &RemoteMock{
		CreateFunc: func(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
			once.Do(func() { close(entered) })
			<-release
			id, _ := fields["id"].(string)
			return serverRecord(id, fields), nil
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, models.OperationInsert, "notes", "", map[string]any{"id": "abc", "title": "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Drain(ctx)
	}()

	// второй вызов приходит, пока первый ждет ответа сервера
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Drain(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, remote.CreateCalls(), 1)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestDrain_InsertThenDeleteLeavesNoMirrorRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	remote := &RemoteMock{
		CreateFunc: func(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
			id, _ := fields["id"].(string)
			return serverRecord(id, fields), nil
		},
		DeleteFunc: func(ctx context.Context, collection, id string) error {
			return nil
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, models.OperationInsert, "notes", "", map[string]any{"id": "tmp", "title": "x"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.OperationDelete, "notes", "tmp", nil)
	require.NoError(t, err)

	n, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.GetRecord(ctx, "notes", "tmp")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestDrain_PermanentErrorDiscardsEntryAndLocalRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// оптимистичная локальная копия
	_, err := store.Upsert(ctx, "notes", []models.Record{
		{"id": "abc", "created": "", "updated": "", "title": "x"},
	})
	require.NoError(t, err)

	remote := &RemoteMock{
		CreateFunc: func(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
			return nil, &api.StatusError{Status: 400, Message: "validation failed"}
		},
		DeleteFunc: func(ctx context.Context, collection, id string) error {
			return &api.StatusError{Status: 404, Message: "not found"}
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err = svc.Enqueue(ctx, models.OperationInsert, "notes", "", map[string]any{"id": "abc", "title": "x"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.OperationDelete, "notes", "zzz", nil)
	require.NoError(t, err)

	n, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	_, err = store.GetRecord(ctx, "notes", "abc")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestDrain_NetworkErrorStopsPass(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	offline := true
	remote := &RemoteMock{
		CreateFunc: func(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
			if offline {
				return nil, fmt.Errorf("post: %w", syscall.ECONNREFUSED)
			}
			id, _ := fields["id"].(string)
			return serverRecord(id, fields), nil
		},
		DeleteFunc: func(ctx context.Context, collection, id string) error {
			return nil
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, models.OperationInsert, "notes", "", map[string]any{"id": "abc"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.OperationDelete, "notes", "abc", nil)
	require.NoError(t, err)

	n, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, remote.CreateCalls(), 1)
	assert.Empty(t, remote.DeleteCalls(), "pass stops at the first network error")

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	offline = false
	n, err = svc.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, remote.DeleteCalls(), 1)
}

func TestDrain_StatusZeroIsNetworkError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	remote := &RemoteMock{
		DeleteFunc: func(ctx context.Context, collection, id string) error {
			return &api.StatusError{Status: 0}
		},
	}
	svc := NewService(store, remote, clock.New(), testLogger())

	_, err := svc.Enqueue(ctx, models.OperationDelete, "notes", "abc", nil)
	require.NoError(t, err)

	n, err := svc.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDrain_Empty(t *testing.T) {
	svc := NewService(newTestStore(t), &RemoteMock{}, clock.New(), testLogger())

	n, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrain_StoreClosed(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, &RemoteMock{}, clock.New(), testLogger())
	require.NoError(t, store.Close())

	_, err := svc.Drain(context.Background())
	require.Error(t, err)
}

func TestRestore_KeepsOrderAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	future := time.UnixMilli(5000)
	first := NewService(store, &RemoteMock{}, clock.NewWithSource(func() time.Time { return future }), testLogger())
	_, err := first.Enqueue(ctx, models.OperationDelete, "notes", "a", nil)
	require.NoError(t, err)

	// системные часы ушли назад между запусками
	past := time.UnixMilli(1000)
	clk := clock.NewWithSource(func() time.Time { return past })
	second := NewService(store, &RemoteMock{}, clk, testLogger())
	require.NoError(t, second.Restore(ctx))

	_, err = second.Enqueue(ctx, models.OperationDelete, "notes", "b", nil)
	require.NoError(t, err)

	entries, err := second.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].IDToModify)
	assert.Equal(t, "b", entries[1].IDToModify)
	assert.Greater(t, entries[1].Created, entries[0].Created)
}
