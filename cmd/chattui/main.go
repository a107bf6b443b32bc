package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/paths"
	"github.com/matheus3301/chatsync/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides CHATSYNC_PROFILE)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	flag.Parse()

	profile := paths.ResolveProfile(*profileFlag)
	if err := paths.ValidateProfile(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so the log only goes to the file.
	logger, err := logging.New(paths.ClientLogPath(profile), "chattui", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	if err := client.EnsureDaemon(ctx, cfg, *configFlag, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c, err := client.Open(ctx, client.Options{Profile: profile, Config: cfg, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, logger.Named("tui"))
	if err := app.Run(); err != nil {
		logger.Error("ui stopped", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
