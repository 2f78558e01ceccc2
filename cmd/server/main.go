package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"buildrelay.app/relay/common/id"
	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/common/otel"
	"buildrelay.app/relay/common/sealed"
	"buildrelay.app/relay/core/config"
	"buildrelay.app/relay/core/db"
	"buildrelay.app/relay/internal/bot"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/dialog"
	"buildrelay.app/relay/internal/http/middleware"
	httprouter "buildrelay.app/relay/internal/http/router"
	"buildrelay.app/relay/internal/notify"
	"buildrelay.app/relay/internal/queue"
	"buildrelay.app/relay/internal/service"
	"buildrelay.app/relay/internal/store"
	"buildrelay.app/relay/internal/timeout"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"notify_queue", cfg.Pipeline.QueueBackend)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	sealer, err := sealed.New(cfg.Credentials.Key)
	if err != nil {
		slog.ErrorContext(ctx, "invalid CREDENTIAL_KEY", "error", err)
		os.Exit(1)
	}

	telegram, err := chat.NewTelegram(chat.TelegramConfig{
		Token:         cfg.Telegram.Token,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		PollTimeout:   cfg.Telegram.PollTimeout,
		UploadTimeout: cfg.Telegram.UploadTimeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "telegram connected", "bot", telegram.Self().Username)

	ciOpts := ci.DefaultOptions()
	ciOpts.Logger = slog.Default()

	stores := store.NewStores(database.Queries())
	services := service.NewServices(stores, service.NewTxRunner(database), sealer, service.NewClientFactory(ciOpts))

	registry := timeout.New(telegram, timeout.Config{SweepInterval: cfg.Dialog.SweepInterval})
	engine := dialog.NewEngine(dialog.Deps{
		Messenger: telegram,
		Registry:  registry,
		Accounts:  services.Accounts(),
		Clients:   services.Credentials(),
		Groups:    services.Groups(),
		Ledger:    services.Ledger(),
	}, dialog.Config{
		SetupTTL: cfg.Dialog.SetupTTL,
		BuildTTL: cfg.Dialog.BuildTTL,
	})
	registry.SetListener(engine)

	b := bot.New(bot.Deps{
		Messenger: telegram,
		Accounts:  services.Accounts(),
		Dialogs:   engine,
	}, bot.Config{})

	dispatcher, closeDispatcher, err := newDispatcher(ctx, cfg, services, telegram)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up notification dispatch", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, dispatcher)
	server := &http.Server{
		Addr:              ":" + cfg.Webhook.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Webhook.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	runCtx, stopRun := context.WithCancel(ctx)
	go registry.Run(runCtx)

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		b.Run(runCtx, telegram.Updates(runCtx))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	registry.Stop()
	stopRun()
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "timed out waiting for update handlers")
	}

	closeDispatcher()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// newDispatcher picks the notification handoff. With redis the server only
// enqueues and cmd/worker delivers; inline runs the pipeline in this process.
func newDispatcher(ctx context.Context, cfg config.Config, services *service.Services, messenger chat.Messenger) (notify.Dispatcher, func(), error) {
	if !cfg.Pipeline.UsesRedis() {
		artifacts, err := store.NewLocalArtifactStore(cfg.Artifacts.Root)
		if err != nil {
			return nil, nil, err
		}
		pipeline := notify.NewPipeline(notify.Deps{
			Messenger: messenger,
			Ledger:    services.Ledger(),
			Clients:   services.Credentials(),
			Artifacts: artifacts,
		}, notify.Config{
			PropertiesFile: cfg.Artifacts.PropertiesFile,
			PathKey:        cfg.Artifacts.PathKey,
			FetchTimeout:   cfg.Artifacts.FetchTimeout,
		})
		inline := notify.NewInlineDispatcher(pipeline)
		return inline, inline.Wait, nil
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
	return producer, func() {
		if err := producer.Close(); err != nil {
			slog.WarnContext(ctx, "closing redis producer", "error", err)
		}
	}, nil
}

func setupRouter(cfg config.Config, dispatcher notify.Dispatcher) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, dispatcher, httprouter.RouterConfig{
		WebhookToken:    cfg.Webhook.Token,
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
	})

	return router
}

const banner = `
 ____        _ _     _   ____      _
| __ ) _   _(_) | __| | |  _ \ ___| | __ _ _   _
|  _ \| | | | | |/ _' | | |_) / _ \ |/ _' | | | |
| |_) | |_| | | | (_| | |  _ <  __/ | (_| | |_| |
|____/ \__,_|_|_|\__,_| |_| \_\___|_|\__,_|\__, |
                                           |___/
`
