package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaystream/core/internal/catalog"
	"github.com/relaystream/core/internal/chunkcache"
	"github.com/relaystream/core/internal/config"
	"github.com/relaystream/core/internal/fetch"
	"github.com/relaystream/core/internal/registry"
	"github.com/relaystream/core/internal/remote"
	"github.com/relaystream/core/internal/sessionpool"
	"github.com/relaystream/core/internal/slogutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// daemon bundles every wired component needed to serve streams.
type daemon struct {
	cfgMgr   *config.Manager
	store    *catalog.Store
	pool     *sessionpool.Pool
	engine   *fetch.Engine
	registry *registry.Registry
}

// setupLogging points the default slog logger at a rotating file per
// cfg.Log, mirroring how the teacher configures its rotation policy.
func setupLogging(cfg *config.Config) {
	if cfg.Log.Path == "" {
		return
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.Log.Path,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
	logger := slog.New(slog.NewJSONHandler(writer, nil))
	slog.SetDefault(logger)
}

// setupDaemon loads configuration, runs migrations, and wires the Chunk
// Cache, Session Pool, Fetch Engine, and Reader Registry together.
func setupDaemon(ctx context.Context) (*daemon, error) {
	mgr, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Current()
	setupLogging(cfg)

	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := catalog.Migrate(store.DB()); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	// No concrete production transport ships in this module (see
	// DESIGN.md); remote.Fake is the bundled stand-in for the backend
	// RPC client until a real Dialer is supplied.
	dialer := remote.NewFakeDialer()
	pool := sessionpool.New(dialer)
	for _, acc := range cfg.Accounts() {
		if err := pool.AddAccount(ctx, acc); err != nil {
			slogutil.With("cmd").Warn("failed to add account", "account_id", acc.ID, "err", err)
		}
	}

	mgr.OnConfigChange(func(_, newCfg *config.Config) {
		if err := pool.Reconcile(ctx, newCfg.Accounts()); err != nil {
			slogutil.With("cmd").Warn("reconcile failed", "err", err)
		}
	})

	chunks := chunkcache.NewChunkCache()
	handles := chunkcache.NewHandleCache()
	engine := fetch.NewEngine(chunks, handles, pool)

	reg := registry.New(store, pool, engine)

	return &daemon{cfgMgr: mgr, store: store, pool: pool, engine: engine, registry: reg}, nil
}

func (d *daemon) shutdown() {
	d.registry.Shutdown()
	d.pool.Shutdown()
	d.store.Close()
}
