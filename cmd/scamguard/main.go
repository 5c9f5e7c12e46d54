package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/scamguard"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON/TOML config file (defaults only when empty)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	addr := flag.String("addr", "", "override server.addr")
	autoStart := flag.Bool("start", false, "begin listening as soon as the server is up")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("no .env file loaded, using process environment", "path", *envFile)
	}

	cfg, err := scamguard.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Server.Addr = *addr
	}
	if *autoStart {
		cfg.Session.AutoStart = true
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	engine, err := scamguard.NewEngine(scamguard.EngineOptions{
		Config: cfg,
		Logger: logger,
		Stdin:  os.Stdin,
	})
	if err != nil {
		logger.Error("engine_init_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		logger.Error("engine_start_failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	if err := engine.Stop(); err != nil {
		logger.Error("engine_stop_failed", "error", err)
		os.Exit(1)
	}
}
