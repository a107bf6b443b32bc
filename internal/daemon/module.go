package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/docstore"
	"github.com/matheus3301/chatsync/internal/docstore/memstore"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/mongostore"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/store"
)

// Params holds the resolved daemon settings passed to the fx module.
type Params struct {
	DataDir    string         // empty = paths.DaemonDir()
	SocketPath string         // empty = chatsyncd.sock inside DataDir
	ConfigPath string         // empty = paths.ConfigPath()
	Config     *config.Config // overrides ConfigPath, for testing
	Console    bool           // also log to stderr
}

func (p Params) dataDir() string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return paths.DaemonDir()
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return filepath.Join(p.dataDir(), filepath.Base(paths.SocketPath()))
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideAccounts,
			provideLeases,
			provideSweeper,
			provideBridge,
			provideServices,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(filepath.Join(p.dataDir(), "logs", "chatsyncd.log"), "chatsyncd", p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(lc fx.Lifecycle, p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.dataDir()); err != nil {
		return nil, err
	}
	logger.Info("acquiring data directory lock", zap.String("dir", p.dataDir()))
	l, err := lock.Acquire(p.dataDir())
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := l.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
	return l, nil
}

type closableStore interface {
	docstore.Store
	Close() error
}

// provideStore opens the configured backend. It depends on the lock so that
// no two daemons open the same SQLite file.
func provideStore(lc fx.Lifecycle, p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger, _ *lock.Lock) (docstore.Store, error) {
	var st closableStore
	switch cfg.Daemon.Store {
	case "memory":
		st = memstore.New(b, logger)
		logger.Warn("documents are kept in memory and lost on exit")
	case "mongo":
		ms, err := mongostore.Connect(context.Background(), mongostore.Options{
			URI:          cfg.Daemon.MongoURI,
			Database:     cfg.Daemon.MongoDB,
			ChangeStream: cfg.Daemon.MongoChangeStream,
		}, b, logger)
		if err != nil {
			return nil, err
		}
		st = ms
	default:
		dbPath := filepath.Join(p.dataDir(), filepath.Base(paths.StorePath()))
		db, err := store.Open(dbPath, b, logger)
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
		st = db
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return st.Close() },
	})
	return st, nil
}

// jwtSecret returns the configured secret or one generated on first start
// and kept in the data directory.
func jwtSecret(cfg *config.Config, dataDir string) (string, error) {
	if cfg.Daemon.JWTSecret != "" {
		return cfg.Daemon.JWTSecret, nil
	}
	path := filepath.Join(dataDir, "jwt.secret")
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read jwt secret: %w", err)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(secret+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write jwt secret: %w", err)
	}
	return secret, nil
}

func provideAccounts(p Params, cfg *config.Config, st docstore.Store, logger *zap.Logger) (*auth.Service, error) {
	secret, err := jwtSecret(cfg, p.dataDir())
	if err != nil {
		return nil, err
	}
	iss, err := auth.NewIssuer(secret, cfg.Daemon.TokenTTL)
	if err != nil {
		return nil, err
	}
	return auth.NewService(st, iss, logger), nil
}

func provideLeases(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) presence.LeaseStore {
	if cfg.Redis.Addr == "" {
		logger.Info("presence leases kept in memory")
		return presence.NewMemoryLeases()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
			}
			logger.Info("presence leases in redis", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(context.Context) error { return client.Close() },
	})
	return presence.NewRedisLeases(client, cfg.Redis.Prefix)
}

func provideSweeper(st docstore.Store, leases presence.LeaseStore, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *presence.Sweeper {
	sw := presence.NewSweeper(st, leases, cfg.Presence.SweepInterval, logger)
	sw.OnSwept = m.Swept
	return sw
}

// provideBridge returns nil when no Kafka broker is configured.
func provideBridge(cfg *config.Config, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *notify.Bridge {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	w := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	return notify.NewBridge(w, b, notify.StoreNamespaces, logger, m)
}

func provideServices(st docstore.Store, accounts *auth.Service, leases presence.LeaseStore, cfg *config.Config, logger *zap.Logger) api.Services {
	return api.Services{
		Documents: api.NewDocumentService(st, logger),
		Accounts:  api.NewAccountService(accounts),
		Presence:  api.NewPresenceLeaseService(leases, cfg.Presence.LeaseTTL),
	}
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, sweeper *presence.Sweeper, bridge *notify.Bridge, m *metrics.Metrics, cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	var metricsSrv *http.Server
	if cfg.Daemon.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.Daemon.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go sweeper.Run(ctx)

			if bridge != nil {
				go bridge.Run(ctx)
			}

			if metricsSrv != nil {
				go func() {
					logger.Info("metrics endpoint listening", zap.String("addr", metricsSrv.Addr))
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			srv.Stop(stopCtx)
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(stopCtx)
			}
			if bridge != nil {
				if err := bridge.Close(); err != nil {
					logger.Warn("error closing notification writer", zap.Error(err))
				}
			}
			return nil
		},
	})
}
