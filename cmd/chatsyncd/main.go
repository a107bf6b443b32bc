package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/paths"
)

func main() {
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	dataFlag := flag.String("data", "", "data directory (default ~/.chatsync/daemon)")
	consoleFlag := flag.Bool("console", false, "also log to stderr")
	initFlag := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}

	if *initFlag {
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(os.Stderr, "error: %s already exists\n", configPath)
			os.Exit(1)
		}
		if err := config.Save(configPath, config.Default()); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote", configPath)
		return
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			DataDir:    *dataFlag,
			ConfigPath: configPath,
			Console:    *consoleFlag,
		}),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app.Run()
}
