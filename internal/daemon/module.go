// Package daemon composes the engine: storage, presence, the realtime
// connection, and the send pipeline, wired through fx.
package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/treasuretool/treasured/internal/account"
	"github.com/treasuretool/treasured/internal/blobstore"
	"github.com/treasuretool/treasured/internal/bus"
	"github.com/treasuretool/treasured/internal/chat"
	"github.com/treasuretool/treasured/internal/config"
	"github.com/treasuretool/treasured/internal/conn"
	"github.com/treasuretool/treasured/internal/lock"
	"github.com/treasuretool/treasured/internal/logging"
	"github.com/treasuretool/treasured/internal/presence"
	"github.com/treasuretool/treasured/internal/profile"
	"github.com/treasuretool/treasured/internal/remote"
	"github.com/treasuretool/treasured/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	DataDir     string // optional override for testing; empty = use the profile dir
}

func (p Params) dir() string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return profile.Dir(p.ProfileName)
}

// Module returns the fx module for the engine, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideBlobstore,
			providePreferences,
			provideMessageStore,
			provideContactStore,
			providePresence,
			provideRemote,
			provideManager,
			provideAccount,
			provideCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := profile.ConfigPath()
	if p.DataDir != "" {
		path = filepath.Join(p.DataDir, "config.toml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(filepath.Join(p.dir(), "logs", "treasured.log"), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideBlobstore(p Params, logger *zap.Logger) (*blobstore.DB, error) {
	dbPath := filepath.Join(p.dir(), "treasured.db")
	db, err := blobstore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func providePreferences(db *blobstore.DB, logger *zap.Logger) *store.Preferences {
	return store.NewPreferences(db, logger)
}

func provideMessageStore(cfg *config.Config, db *blobstore.DB, prefs *store.Preferences, b *bus.Bus, logger *zap.Logger) *store.MessageStore {
	return store.NewMessageStore(db, prefs, b, logger, cfg.Store.MaxMessages)
}

func provideContactStore(db *blobstore.DB, logger *zap.Logger) *store.ContactStore {
	return store.NewContactStore(db, logger)
}

func providePresence(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Cache {
	return presence.NewCache(b, logger, cfg.Presence.Capacity)
}

func provideRemote(cfg *config.Config) *remote.Client {
	return remote.NewClient(cfg.Server.APIURL)
}

func provideManager(cfg *config.Config, prefs *store.Preferences, msgs *store.MessageStore, cache *presence.Cache, b *bus.Bus, logger *zap.Logger) *conn.Manager {
	opts := conn.Options{
		URL:               cfg.Server.WSURL,
		Keepalive:         cfg.Conn.Keepalive(),
		ReconnectDelay:    cfg.Conn.ReconnectDelay(),
		ReconnectMaxDelay: cfg.Conn.ReconnectMaxDelay(),
		ReconnectJitter:   cfg.Conn.ReconnectJitter,
	}
	return conn.NewManager(opts, prefs, msgs, cache, b, logger)
}

func provideAccount(client *remote.Client, prefs *store.Preferences, contacts *store.ContactStore, cache *presence.Cache, b *bus.Bus, logger *zap.Logger) *account.Service {
	return account.NewService(client, prefs, contacts, cache, b, logger)
}

func provideCoordinator(msgs *store.MessageStore, mgr *conn.Manager, client *remote.Client, b *bus.Bus, logger *zap.Logger) *chat.Coordinator {
	return chat.NewCoordinator(msgs, mgr, client, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, mgr *conn.Manager, accounts *account.Service, prefs *store.Preferences, db *blobstore.DB, lk *lock.Lock, _ *chat.Coordinator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if prefs.IsLoggedIn(ctx) {
				go func() {
					if err := accounts.RefreshContacts(context.Background()); err != nil {
						logger.Warn("contact refresh on startup failed", zap.Error(err))
					}
				}()
				mgr.Connect()
			} else {
				logger.Info("no valid login record, realtime connection deferred")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
