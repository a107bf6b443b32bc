package client

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/remote"
)

// DaemonBinary is the executable started by EnsureDaemon.
const DaemonBinary = "chatsyncd"

// EnsureDaemon starts the local daemon unless it already answers. Remote
// addresses are never started, only probed.
func EnsureDaemon(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := DaemonAddr(cfg)
	if probe(ctx, addr) {
		return nil
	}
	if cfg != nil && cfg.Client.Addr != "" {
		return fmt.Errorf("daemon at %s is not answering", addr)
	}

	if pid, held := lock.Holder(paths.DaemonDir()); held {
		logger.Info("daemon holds the lock but is not answering yet", zap.Int("pid", pid))
	} else {
		if err := startDaemon(configPath); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		logger.Info("daemon started")
	}
	return waitForDaemon(ctx, addr, 10*time.Second)
}

// probe checks that a daemon answers calls on addr, not just that the
// socket exists.
func probe(ctx context.Context, addr string) bool {
	rc, err := remote.Dial(remote.Options{Addr: addr, CallTimeout: 2 * time.Second}, nil)
	if err != nil {
		return false
	}
	defer func() { _ = rc.Close() }()
	return rc.Ping(ctx) == nil
}

func startDaemon(configPath string) error {
	bin := DaemonBinary
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), DaemonBinary)
		if _, err := os.Stat(sibling); err == nil {
			bin = sibling
		}
	}
	args := []string{}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(bin, args...)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func waitForDaemon(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probe(ctx, addr) {
			return nil
		}
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("daemon did not become ready within %s", timeout)
}
