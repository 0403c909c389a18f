package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/Gokias/GokiBot/external/audio"
	captureimpl "github.com/Gokias/GokiBot/external/capture"
	configloader "github.com/Gokias/GokiBot/external/config"
	"github.com/Gokias/GokiBot/external/discord"
	repositoryimpl "github.com/Gokias/GokiBot/external/repository"
	transcriberimpl "github.com/Gokias/GokiBot/external/transcriber"
	webhookimpl "github.com/Gokias/GokiBot/external/webhook"
	"github.com/Gokias/GokiBot/internal/config"
	discordpkg "github.com/Gokias/GokiBot/internal/discord"
	"github.com/Gokias/GokiBot/internal/session"
	"github.com/Gokias/GokiBot/internal/telemetry"
	"github.com/Gokias/GokiBot/internal/transcriber"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"
)

const (
	discordConnectTimeout = 20 * time.Second
	shutdownTimeout       = 5 * time.Minute
	serviceName           = "gokibot"
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "speech_engine", cfg.SpeechEngine, "slice_interval", cfg.SliceInterval())

	if err := run(cfg); err != nil {
		slog.Error("bot exited with error", "error", err)
		os.Exit(1)
	}
}

// run owns every deferred teardown so that failures still flush traces and stop the metrics server.
func run(cfg *config.Config) error {
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()

	stopMetrics := serveMetrics(cfg.MetricsAddr)
	defer stopMetrics()

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	return runBot(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	captureimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runBot(cfg *config.Config, injector do.Injector) error {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve discord client: %w", err)
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve session manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		return fmt.Errorf("discord connect failed: %w", err)
	}
	slog.Info("startup: discord connected")

	botUserID, err := dc.GetBotUserID()
	if err != nil {
		shutdown(injector, manager, dc)
		return fmt.Errorf("failed to resolve bot user id: %w", err)
	}
	manager.SetBotUserID(botUserID)

	if err := dc.UpsertSlashCommands(cfg.DiscordGuildID, session.SlashCommandDefinitions()); err != nil {
		shutdown(injector, manager, dc)
		return fmt.Errorf("failed to upsert slash commands for guild %s: %w", cfg.DiscordGuildID, err)
	}

	dc.RegisterVoiceStateUpdateHandler(manager.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(manager.HandleSlashCommand)
	dc.RegisterReactionAddHandler(manager.HandleReactionAdd)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID, "bot_user_id", botUserID)

	done := make(chan struct{})
	go func() {
		slog.Info("startup: entering discord run loop")
		if err := dc.Run(); err != nil {
			slog.Error("discord run failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}

	shutdown(injector, manager, dc)
	return nil
}

// shutdown ends live sessions before the gateway and the database go away.
func shutdown(injector do.Injector, manager *session.Manager, dc discordpkg.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.EndAllSessions(ctx); err != nil {
		slog.Error("failed to end sessions", "error", err)
	}
	if resolver, err := do.Invoke[*transcriber.Resolver](injector); err == nil {
		if err := resolver.Close(); err != nil {
			slog.Warn("failed to close speech engine", "error", err)
		}
	}
	if err := dc.Close(); err != nil {
		slog.Error("discord close failed", "error", err)
	}
	if pool, err := do.Invoke[*pgxpool.Pool](injector); err == nil {
		pool.Close()
	}
	slog.Info("shutdown complete")
}
