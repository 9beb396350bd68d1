package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wabridge/internal/api"
	"wabridge/internal/config"
	"wabridge/internal/gateway"
	"wabridge/internal/session"
	"wabridge/internal/store"
	"wabridge/internal/wa"
	"wabridge/internal/webhook"
)

var (
	version    = "0.1.0"
	configPath string // overridable via --config flag
)

func main() {
	root := &cobra.Command{
		Use:   "wabridge",
		Short: "WhatsApp session gateway with webhook relay",
		Long:  "wabridge maintains one or more paired WhatsApp sessions, normalizes inbound messages and relays them to a webhook consumer.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.wabridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Println("config written to", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wabridge", version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store.DBPath, logger, wa.Logger(logger.With("component", "sqlstore")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	policy := session.PolicyByName(cfg.WhatsApp.Profile)
	factory := wa.NewFactory(st, wa.FactoryConfig{
		DeviceName: cfg.WhatsApp.DeviceName,
		MarkOnline: policy.MarkOnline,
	}, logger)

	relay := webhook.NewRelay(cfg.Webhook.URL, time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second, logger)

	gw := gateway.New(gateway.Config{
		Store:          st,
		Relay:          relay,
		Factory:        factory,
		Policy:         policy,
		WelcomeEnabled: cfg.WhatsApp.WelcomeEnabled,
		WelcomeText:    cfg.WhatsApp.WelcomeMessage,
		Logger:         logger,
	})

	if err := gw.Restore(ctx); err != nil {
		logger.Warn("instance restore incomplete", "error", err)
	}

	server := api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Gateway: gw,
		Logger:  logger,
		Version: version,
	})

	logger.Info("gateway started", "profile", policy.Name, "config", cfgPath)

	err = server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gw.Close(shutdownCtx)
	logger.Info("shutdown complete")
	return err
}

// setupLogger builds the process logger from the log config. When a
// file is configured, logs go there instead of stderr.
func setupLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	closeLog := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		out = f
		closeLog = func() { f.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeLog, nil
}
