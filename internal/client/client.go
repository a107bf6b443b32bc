// Package client assembles the client side of chatsync: the daemon
// connection, the signed-in identity and the synchronization core.
package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/blob"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/remote"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
)

// Options configures Open.
type Options struct {
	Profile string
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// SessionFile overrides the profile's session file. Tests point it at a
	// temporary directory.
	SessionFile string
	// BlobDir overrides the local attachment directory.
	BlobDir string
}

// Client owns the daemon connection and everything built on it.
type Client struct {
	Remote   *remote.Client
	Identity *identity.Provider
	Core     *chatsync.Core
	Profile  string

	bridge *notify.Bridge
	cancel context.CancelFunc
	logger *zap.Logger
}

// DaemonAddr returns the address clients dial: the configured one, or the
// local daemon socket.
func DaemonAddr(cfg *config.Config) string {
	if cfg != nil && cfg.Client.Addr != "" {
		return cfg.Client.Addr
	}
	return "unix://" + paths.SocketPath()
}

// Open dials the daemon and restores the profile's persisted session, if
// any. The caller signs in when Identity has no current user.
func Open(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionFile := opts.SessionFile
	if sessionFile == "" {
		sessionFile = paths.SessionFile(opts.Profile)
	}

	rc, err := remote.Dial(remote.Options{Addr: DaemonAddr(cfg), CallTimeout: cfg.Client.CallTimeout}, logger.Named("remote"))
	if err != nil {
		return nil, err
	}
	id := identity.NewProvider(rc, rc, sessionFile, logger.Named("identity"))
	if ok, err := id.Restore(); err != nil {
		logger.Warn("session restore failed", zap.Error(err))
	} else if ok {
		u, _ := id.CurrentUser()
		logger.Info("session restored", zap.String("uid", u.UID))
	}

	bs, err := openBlob(ctx, cfg, opts.BlobDir, logger)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}

	core, err := chatsync.New(chatsync.Deps{
		Store:    rc,
		Identity: id,
		Blob:     bs,
		Leases:   rc,
		Logger:   logger.Named("sync"),
		Metrics:  opts.Metrics,
		Options: chatsync.Options{
			LiveWindow:        cfg.Client.LiveWindow,
			PageSize:          cfg.Client.PageSize,
			HeartbeatInterval: cfg.Presence.Heartbeat,
			LeaseTTL:          cfg.Presence.LeaseTTL,
		},
	})
	if err != nil {
		_ = rc.Close()
		return nil, err
	}

	c := &Client{Remote: rc, Identity: id, Core: core, Profile: opts.Profile, logger: logger}
	if len(cfg.Kafka.Brokers) > 0 {
		bctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.bridge = notify.NewBridge(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), core.Bus(), notify.ClientNamespaces, logger.Named("notify"), opts.Metrics)
		go c.bridge.Run(bctx)
	}
	return c, nil
}

func openBlob(ctx context.Context, cfg *config.Config, dir string, logger *zap.Logger) (blob.Store, error) {
	if cfg.Blob.Endpoint != "" {
		s, err := blob.NewS3(ctx, blob.S3Options{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			Secure:    cfg.Blob.UseSSL,
		}, logger.Named("blob"))
		if err != nil {
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		return s, nil
	}
	if dir == "" {
		dir = paths.BlobDir()
	}
	l, err := blob.NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return l, nil
}

// Close stops the core, the notification bridge and the connection.
func (c *Client) Close() error {
	c.Core.Close()
	if c.cancel != nil {
		c.cancel()
	}
	if c.bridge != nil {
		if err := c.bridge.Close(); err != nil {
			c.logger.Warn("close notification bridge", zap.Error(err))
		}
	}
	return c.Remote.Close()
}
