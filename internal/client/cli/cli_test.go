package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/auth"
	"github.com/iudanet/gophsync/internal/client/cache"
	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/router"
	serverstore "github.com/iudanet/gophsync/internal/server/storage/sqlite"
	"github.com/iudanet/gophsync/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// output собирает все, что команды печатают через IOMock
type output struct {
	b  strings.Builder
	mu sync.Mutex
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.b.String()
}

func (o *output) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.b.Reset()
}

// newIOMock печатает в out и отдает inputs по очереди на каждый запрос ввода
func newIOMock(out *output, inputs ...string) *iocli.IOMock {
	var mu sync.Mutex
	next := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(inputs) == 0 {
			return "", io.EOF
		}
		v := inputs[0]
		inputs = inputs[1:]
		return v, nil
	}
	write := func(s string) {
		out.mu.Lock()
		out.b.WriteString(s)
		out.mu.Unlock()
	}

	return &iocli.IOMock{
		PrintlnFunc: func(a ...any) {
			write(fmt.Sprintln(a...))
		},
		PrintfFunc: func(format string, a ...any) {
			write(fmt.Sprintf(format, a...))
		},
		WriteFunc: func(p []byte) (int, error) {
			write(string(p))
			return len(p), nil
		},
		ReadInputFunc: func(string) (string, error) {
			return next()
		},
		ReadPasswordFunc: func(string) (string, error) {
			return next()
		},
	}
}

// toggleRemote клиент эталонного сервера, который можно "отключить"
type toggleRemote struct {
	*apiclient.Client
	down atomic.Bool
}

func errUnreachable() error {
	return fmt.Errorf("request failed: %w", syscall.ECONNREFUSED)
}

func (r *toggleRemote) Health(ctx context.Context) (int, error) {
	if r.down.Load() {
		return 0, errUnreachable()
	}
	return r.Client.Health(ctx)
}

func (r *toggleRemote) List(ctx context.Context, collection string, opts apiclient.ListOptions) (*api.ListResponse, error) {
	if r.down.Load() {
		return nil, errUnreachable()
	}
	return r.Client.List(ctx, collection, opts)
}

func (r *toggleRemote) Create(ctx context.Context, collection string, fields map[string]any) (models.Record, error) {
	if r.down.Load() {
		return nil, errUnreachable()
	}
	return r.Client.Create(ctx, collection, fields)
}

func (r *toggleRemote) Update(ctx context.Context, collection, id string, fields map[string]any) (models.Record, error) {
	if r.down.Load() {
		return nil, errUnreachable()
	}
	return r.Client.Update(ctx, collection, id, fields)
}

func (r *toggleRemote) Delete(ctx context.Context, collection, id string) error {
	if r.down.Load() {
		return errUnreachable()
	}
	return r.Client.Delete(ctx, collection, id)
}

func setupBackend(t *testing.T) *toggleRemote {
	t.Helper()

	logger := testLogger()
	store, err := serverstore.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	jwtCfg := handlers.JWTConfig{
		Secret:          []byte("cli-test"),
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	srv := httptest.NewServer(router.New(router.Config{
		Logger:  logger,
		Health:  handlers.NewHealthHandler(logger, store),
		Auth:    handlers.NewAuthHandler(logger, store, store, jwtCfg),
		Records: handlers.NewRecordsHandler(logger, store),
		JWT:     jwtCfg,
	}))
	t.Cleanup(srv.Close)

	return &toggleRemote{Client: apiclient.NewClient(srv.URL)}
}

func newTestCache(t *testing.T, remote cache.Remote) *cache.Cache {
	t.Helper()

	c, err := cache.Open(context.Background(), remote, filepath.Join(t.TempDir(), "cache.db"), cache.Config{
		Logger:         testLogger(),
		DisableMonitor: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func anonymousService() *auth.ServiceMock {
	return &auth.ServiceMock{
		RestoreFunc: func(ctx context.Context) (*storage.AuthData, error) {
			return nil, storage.ErrAuthNotFound
		},
		SessionFunc: func(ctx context.Context) (*storage.AuthData, error) {
			return nil, storage.ErrAuthNotFound
		},
		RefreshIfNeededFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		want    any
		name    string
		raw     string
		wantErr bool
	}{
		{name: "true", raw: "true", want: true},
		{name: "false", raw: "false", want: false},
		{name: "null", raw: "null", want: nil},
		{name: "int", raw: "42", want: int64(42)},
		{name: "negative int", raw: "-7", want: int64(-7)},
		{name: "float", raw: "1.5", want: 1.5},
		{name: "plain string", raw: "Buy milk", want: "Buy milk"},
		{name: "quoted number stays string", raw: `"42"`, want: "42"},
		{name: "empty", raw: "", want: ""},
		{name: "json list", raw: `["a",1]`, want: []any{"a", int64(1)}},
		{name: "json object", raw: `{"k":true}`, want: map[string]any{"k": true}},
		{name: "broken json", raw: `{"k":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"title=Buy milk", "rank=3", "done=false", "note="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"title": "Buy milk",
		"rank":  int64(3),
		"done":  false,
		"note":  "",
	}, fields)

	_, err = parseFields([]string{"title"})
	assert.Error(t, err)

	_, err = parseFields([]string{"=value"})
	assert.Error(t, err)
}

func TestParseSort(t *testing.T) {
	field, desc := parseSort("-rank")
	assert.Equal(t, "rank", field)
	assert.True(t, desc)

	field, desc = parseSort("title")
	assert.Equal(t, "title", field)
	assert.False(t, desc)

	field, desc = parseSort("+created")
	assert.Equal(t, "created", field)
	assert.False(t, desc)
}

func TestCli_RestoreSession(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		svc := anonymousService()
		c := New(newIOMock(&output{}), svc, nil)

		require.NoError(t, c.restoreSession(ctx))
		assert.Nil(t, c.authData)
		assert.Empty(t, svc.RefreshIfNeededCalls())
	})

	t.Run("session restored", func(t *testing.T) {
		svc := anonymousService()
		svc.RestoreFunc = func(ctx context.Context) (*storage.AuthData, error) {
			return &storage.AuthData{Username: "alice"}, nil
		}
		c := New(newIOMock(&output{}), svc, nil)

		require.NoError(t, c.restoreSession(ctx))
		require.NotNil(t, c.authData)
		assert.Equal(t, "alice", c.authData.Username)
		assert.Len(t, svc.RefreshIfNeededCalls(), 1)
	})

	t.Run("refresh fails offline", func(t *testing.T) {
		out := &output{}
		svc := anonymousService()
		svc.RestoreFunc = func(ctx context.Context) (*storage.AuthData, error) {
			return &storage.AuthData{Username: "alice"}, nil
		}
		svc.RefreshIfNeededFunc = func(ctx context.Context) error {
			return errUnreachable()
		}
		c := New(newIOMock(out), svc, nil)

		require.NoError(t, c.restoreSession(ctx))
		assert.NotNil(t, c.authData)
		assert.Contains(t, out.String(), "Warning: failed to refresh session")
	})

	t.Run("session expired", func(t *testing.T) {
		svc := anonymousService()
		svc.RestoreFunc = func(ctx context.Context) (*storage.AuthData, error) {
			return &storage.AuthData{Username: "alice"}, nil
		}
		svc.RefreshIfNeededFunc = func(ctx context.Context) error {
			return auth.ErrSessionExpired
		}
		c := New(newIOMock(&output{}), svc, nil)

		err := c.restoreSession(ctx)
		assert.ErrorIs(t, err, auth.ErrSessionExpired)
		assert.Nil(t, c.authData)
	})

	t.Run("other server", func(t *testing.T) {
		svc := anonymousService()
		svc.RestoreFunc = func(ctx context.Context) (*storage.AuthData, error) {
			return nil, auth.ErrOtherServer
		}
		c := New(newIOMock(&output{}), svc, nil)

		assert.ErrorIs(t, c.restoreSession(ctx), auth.ErrOtherServer)
	})
}

func TestCli_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		out := &output{}
		svc := &auth.ServiceMock{
			RegisterFunc: func(ctx context.Context, username, password string) (models.Record, error) {
				return models.Record{"id": "user00000000001", "username": username}, nil
			},
		}
		c := New(newIOMock(out, "alice", "Secret123!", "Secret123!"), svc, nil)

		require.NoError(t, c.runRegister(ctx, ""))

		calls := svc.RegisterCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "alice", calls[0].Username)
		assert.Equal(t, "Secret123!", calls[0].Password)
		assert.Contains(t, out.String(), "✓ Registration successful!")
		assert.Contains(t, out.String(), "User ID: user00000000001")
	})

	t.Run("passwords do not match", func(t *testing.T) {
		svc := &auth.ServiceMock{}
		c := New(newIOMock(&output{}, "Secret123!", "Other123!"), svc, nil)

		err := c.runRegister(ctx, "alice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "passwords do not match")
		assert.Empty(t, svc.RegisterCalls())
	})
}

func TestCli_LoginLogout(t *testing.T) {
	ctx := context.Background()
	out := &output{}
	expires := time.Now().Add(time.Hour).Unix()

	svc := &auth.ServiceMock{
		LoginFunc: func(ctx context.Context, username, password string) (*storage.AuthData, error) {
			return &storage.AuthData{Username: username, ExpiresAt: expires}, nil
		},
		LogoutFunc: func(ctx context.Context) error {
			return nil
		},
	}
	c := New(newIOMock(out, "Secret123!"), svc, nil)

	require.NoError(t, c.runLogin(ctx, "alice"))
	assert.Contains(t, out.String(), "✓ Login successful!")
	assert.Contains(t, out.String(), "Username: alice")
	require.NotNil(t, c.authData)

	require.NoError(t, c.runLogout(ctx))
	assert.Contains(t, out.String(), "✓ Logout successful!")
	assert.Nil(t, c.authData)
	assert.Len(t, svc.LogoutCalls(), 1)
}

func TestCli_LoginFails(t *testing.T) {
	svc := &auth.ServiceMock{
		LoginFunc: func(ctx context.Context, username, password string) (*storage.AuthData, error) {
			return nil, errors.New("login failed: invalid credentials")
		},
	}
	c := New(newIOMock(&output{}, "wrong"), svc, nil)

	err := c.runLogin(context.Background(), "alice")
	require.Error(t, err)
	assert.Nil(t, c.authData)
}

func TestCli_Status(t *testing.T) {
	ctx := context.Background()
	remote := setupBackend(t)
	out := &output{}
	c := New(newIOMock(out), anonymousService(), newTestCache(t, remote))

	require.NoError(t, c.runStatus(ctx))
	text := out.String()
	assert.Contains(t, text, "Session: not logged in")
	assert.Contains(t, text, "Connection: online")
	assert.Contains(t, text, "✓ No pending mutations")
	assert.Contains(t, text, "Last sync: never")

	out.Reset()
	remote.down.Store(true)
	require.NoError(t, c.runStatus(ctx))
	assert.Contains(t, out.String(), "Connection: offline")
}

func TestCli_StatusWithSession(t *testing.T) {
	ctx := context.Background()
	out := &output{}
	svc := anonymousService()
	svc.SessionFunc = func(ctx context.Context) (*storage.AuthData, error) {
		return &storage.AuthData{
			Username:  "alice",
			ServerURL: "http://backend",
			ExpiresAt: time.Now().Add(-time.Hour).Unix(),
		}, nil
	}
	c := New(newIOMock(out), svc, newTestCache(t, setupBackend(t)))

	require.NoError(t, c.runStatus(ctx))
	assert.Contains(t, out.String(), "Session: alice")
	assert.Contains(t, out.String(), "Session has expired")
}

func TestCli_RecordCommands_Online(t *testing.T) {
	ctx := context.Background()
	remote := setupBackend(t)
	out := &output{}
	c := New(newIOMock(out), anonymousService(), newTestCache(t, remote))

	require.NoError(t, c.runCreate(ctx, "notes",
		[]string{"id=note00000000001", "title=Buy milk", "rank=2", "done=false"}, ""))
	assert.Contains(t, out.String(), "✓ Record note00000000001 created")
	assert.NotContains(t, out.String(), "queued")

	require.NoError(t, c.runCreate(ctx, "notes",
		[]string{"id=note00000000002", "rank=5"}, `{"title":"Walk dog","done":true}`))

	out.Reset()
	require.NoError(t, c.runList(ctx, "notes", listOptions{Source: "server", Sort: "-rank"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"note00000000002"`)
	assert.Contains(t, lines[1], `"id":"note00000000001"`)

	out.Reset()
	require.NoError(t, c.runList(ctx, "notes", listOptions{
		Source: "cache",
		Where:  "done = ?",
		Params: []string{"false"},
	}))
	assert.Contains(t, out.String(), `"title":"Buy milk"`)
	assert.NotContains(t, out.String(), "Walk dog")

	out.Reset()
	require.NoError(t, c.runList(ctx, "notes", listOptions{Source: "cache", Sort: "rank", After: "note00000000001"}))
	assert.Contains(t, out.String(), "note00000000002")
	assert.NotContains(t, out.String(), "note00000000001")

	out.Reset()
	require.NoError(t, c.runCount(ctx, "notes", listOptions{Source: "server"}))
	assert.Equal(t, "2\n", out.String())

	out.Reset()
	require.NoError(t, c.runUpdate(ctx, "notes", "note00000000001", []string{"done=true"}, ""))
	assert.Contains(t, out.String(), "✓ Record note00000000001 updated")

	out.Reset()
	require.NoError(t, c.runCount(ctx, "notes", listOptions{Source: "server", Where: "done = ?", Params: []string{"true"}}))
	assert.Equal(t, "2\n", out.String())

	out.Reset()
	require.NoError(t, c.runDelete(ctx, "notes", "note00000000002"))
	assert.Contains(t, out.String(), "✓ Record note00000000002 deleted")

	out.Reset()
	require.NoError(t, c.runCount(ctx, "notes", listOptions{Source: "cache"}))
	assert.Equal(t, "1\n", out.String())

	out.Reset()
	require.NoError(t, c.runTables(ctx))
	assert.Equal(t, "notes\n", out.String())
}

func TestCli_RecordCommands_Errors(t *testing.T) {
	ctx := context.Background()
	c := New(newIOMock(&output{}), anonymousService(), newTestCache(t, setupBackend(t)))

	assert.Error(t, c.runList(ctx, "notes", listOptions{Source: "disk"}))
	assert.Error(t, c.runList(ctx, "bad-name", listOptions{Source: "cache"}))
	assert.Error(t, c.runList(ctx, "notes", listOptions{Source: "cache", Where: "done = ?"}))
	assert.Error(t, c.runList(ctx, "notes", listOptions{Source: "cache", After: "missing00000001", Sort: "rank"}))
	assert.Error(t, c.runCreate(ctx, "notes", []string{"title"}, ""))
	assert.Error(t, c.runCreate(ctx, "notes", nil, `{"title":`))
	assert.Error(t, c.runUpdate(ctx, "notes", "note00000000001", nil, ""))
}

func TestCli_OfflineMutationsThenSync(t *testing.T) {
	ctx := context.Background()
	remote := setupBackend(t)
	out := &output{}
	svc := anonymousService()
	c := New(newIOMock(out), svc, newTestCache(t, remote))

	remote.down.Store(true)

	require.NoError(t, c.runCreate(ctx, "notes", []string{"id=note00000000001", "title=Offline"}, ""))
	assert.Contains(t, out.String(), "Offline: 1 mutation(s) queued")

	out.Reset()
	require.NoError(t, c.runPending(ctx))
	assert.Contains(t, out.String(), "=== Pending mutations (1) ===")
	assert.Contains(t, out.String(), "INSERT notes note00000000001")

	out.Reset()
	require.NoError(t, c.runSync(ctx))
	assert.Contains(t, out.String(), "Server is unreachable")
	assert.Contains(t, out.String(), "Pending: 1 mutation(s)")
	assert.Empty(t, svc.RefreshIfNeededCalls())

	remote.down.Store(false)

	out.Reset()
	require.NoError(t, c.runSync(ctx))
	assert.Contains(t, out.String(), "✓ Synchronization complete")
	assert.Contains(t, out.String(), "Sent: 1 mutation(s)")
	assert.Len(t, svc.RefreshIfNeededCalls(), 1)

	out.Reset()
	require.NoError(t, c.runPending(ctx))
	assert.Equal(t, "No pending mutations\n", out.String())

	out.Reset()
	require.NoError(t, c.runList(ctx, "notes", listOptions{Source: "server"}))
	assert.Contains(t, out.String(), `"title":"Offline"`)
}

func TestCli_SyncSessionExpired(t *testing.T) {
	svc := anonymousService()
	svc.RefreshIfNeededFunc = func(ctx context.Context) error {
		return auth.ErrSessionExpired
	}
	c := New(newIOMock(&output{}), svc, newTestCache(t, setupBackend(t)))

	assert.ErrorIs(t, c.runSync(context.Background()), auth.ErrSessionExpired)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	remote := setupBackend(t)
	store := newTestCache(t, remote)

	type run struct {
		svc      *auth.ServiceMock
		out      *output
		factory  Factory
		opts     []Options
		released int
	}
	newRun := func(inputs ...string) *run {
		r := &run{svc: anonymousService(), out: &output{}}
		r.svc.LoginFunc = func(ctx context.Context, username, password string) (*storage.AuthData, error) {
			return &storage.AuthData{Username: username}, nil
		}
		r.factory = func(ctx context.Context, opts Options) (*Cli, func() error, error) {
			r.opts = append(r.opts, opts)
			return New(newIOMock(r.out, inputs...), r.svc, store), func() error {
				r.released++
				return nil
			}, nil
		}
		return r
	}

	t.Run("global flags reach the factory", func(t *testing.T) {
		r := newRun()
		err := Execute(ctx, r.factory, "test", []string{"--server", "http://backend", "--data-dir", "/tmp/x", "tables"}, io.Discard)
		require.NoError(t, err)
		require.Len(t, r.opts, 1)
		assert.Equal(t, "http://backend", r.opts[0].ServerURL)
		assert.Equal(t, "/tmp/x", r.opts[0].DataDir)
		assert.Equal(t, 1, r.released)
		assert.Len(t, r.svc.RestoreCalls(), 1)
	})

	t.Run("login skips session restore", func(t *testing.T) {
		r := newRun("Secret123!")
		err := Execute(ctx, r.factory, "test", []string{"login", "-u", "alice"}, io.Discard)
		require.NoError(t, err)
		assert.Empty(t, r.svc.RestoreCalls())
		require.Len(t, r.svc.LoginCalls(), 1)
		assert.Equal(t, "alice", r.svc.LoginCalls()[0].Username)
	})

	t.Run("failed command still releases", func(t *testing.T) {
		r := newRun()
		err := Execute(ctx, r.factory, "test", []string{"count", "bad-name", "--source", "cache"}, io.Discard)
		require.Error(t, err)
		assert.Equal(t, 1, r.released)
	})

	t.Run("argument error does not open resources", func(t *testing.T) {
		r := newRun()
		err := Execute(ctx, r.factory, "test", []string{"list"}, io.Discard)
		require.Error(t, err)
		assert.Empty(t, r.opts)
		assert.Zero(t, r.released)
	})

	t.Run("factory error", func(t *testing.T) {
		factoryErr := errors.New("cannot open data dir")
		err := Execute(ctx, func(ctx context.Context, opts Options) (*Cli, func() error, error) {
			return nil, nil, factoryErr
		}, "test", []string{"tables"}, io.Discard)
		assert.ErrorIs(t, err, factoryErr)
	})

	t.Run("version", func(t *testing.T) {
		r := newRun()
		var buf strings.Builder
		err := Execute(ctx, r.factory, "1.2.3", []string{"--version"}, &buf)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "1.2.3")
		assert.Empty(t, r.opts)
	})

	t.Run("create and list through the command tree", func(t *testing.T) {
		r := newRun()
		err := Execute(ctx, r.factory, "test", []string{"create", "tasks", "id=task00000000001", "title=From CLI"}, io.Discard)
		require.NoError(t, err)

		r.out.Reset()
		err = Execute(ctx, r.factory, "test", []string{"list", "tasks", "--source", "cache", "-w", "title = ?", "-p", "From CLI"}, io.Discard)
		require.NoError(t, err)
		assert.Contains(t, r.out.String(), `"id":"task00000000001"`)
	})
}

func TestCli_Watch(t *testing.T) {
	remote := setupBackend(t)
	store, err := cache.Open(context.Background(), remote, filepath.Join(t.TempDir(), "cache.db"), cache.Config{
		Logger:        testLogger(),
		ProbeInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	out := &output{}
	c := New(newIOMock(out), anonymousService(), store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.runWatch(ctx)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Connection: online")
	}, time.Second, 5*time.Millisecond)

	remote.down.Store(true)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "connection offline")
	}, time.Second, 5*time.Millisecond)

	remote.down.Store(false)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "connection online")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, out.String(), "Stopped")
}
