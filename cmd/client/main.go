package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	apiclient "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/auth"
	"github.com/iudanet/gophsync/internal/client/cache"
	"github.com/iudanet/gophsync/internal/client/cli"
	"github.com/iudanet/gophsync/internal/client/iocli"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	"github.com/iudanet/gophsync/internal/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

const (
	sessionDBName = "session.db"
	cacheDBName   = "cache.db"
	logFileName   = "gophsync.log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	version := fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit)
	if err := cli.Execute(ctx, newClient, version, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newClient открывает локальные хранилища и собирает Cli по настройкам
// окружения и глобальным флагам
func newClient(ctx context.Context, opts cli.Options) (*cli.Cli, func() error, error) {
	cfg, err := config.LoadClient(envFiles(opts.EnvFile)...)
	if err != nil {
		return nil, nil, err
	}
	applyOverrides(cfg, opts)

	dataDir, err := resolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	logPath := cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(dataDir, logFileName)
	}
	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
	logger := slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	sessionStore, err := boltdb.New(ctx, filepath.Join(dataDir, sessionDBName))
	if err != nil {
		_ = logWriter.Close()
		return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	client := apiclient.NewClient(cfg.ServerURL)
	authService := auth.NewService(client, sessionStore, auth.Config{
		Logger:        logger,
		ServerURL:     cfg.ServerURL,
		RefreshBefore: cfg.RefreshBefore,
		SessionTTL:    cfg.SessionTTL,
	})

	c, err := cache.Open(ctx, client, filepath.Join(dataDir, cacheDBName), cache.Config{
		Logger:          logger,
		Metadata:        sessionStore,
		BeforeSync:      authService.RefreshIfNeeded,
		ProbeInterval:   cfg.ProbeInterval,
		ResyncBatchSize: cfg.ResyncBatchSize,
		OnNetworkChange: func(online bool) {
			logger.Info("Network state changed", "online", online)
		},
		OnCacheUpdated: func(tables []string) {
			logger.Info("Cache updated from server", "tables", tables)
		},
	})
	if err != nil {
		_ = sessionStore.Close()
		_ = logWriter.Close()
		return nil, nil, err
	}

	logger.Debug("Client started",
		"version", Version,
		"server", cfg.ServerURL,
		"data_dir", dataDir)

	release := func() error {
		return errors.Join(c.Close(), sessionStore.Close(), logWriter.Close())
	}
	return cli.New(iocli.NewStdio(), authService, c), release, nil
}

func envFiles(path string) []string {
	if path == "" {
		return nil
	}
	return []string{path}
}

func applyOverrides(cfg *config.ClientConfig, opts cli.Options) {
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
}

// resolveDataDir по умолчанию каталог gophsync в пользовательском конфиге
func resolveDataDir(dir string) (string, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate user config dir: %w", err)
		}
		dir = filepath.Join(base, "gophsync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data dir: %w", err)
	}
	return dir, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
