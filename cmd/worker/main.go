package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"buildrelay.app/relay/common/id"
	"buildrelay.app/relay/common/logger"
	"buildrelay.app/relay/common/otel"
	"buildrelay.app/relay/common/sealed"
	"buildrelay.app/relay/core/config"
	"buildrelay.app/relay/core/db"
	"buildrelay.app/relay/internal/chat"
	"buildrelay.app/relay/internal/ci"
	"buildrelay.app/relay/internal/notify"
	"buildrelay.app/relay/internal/queue"
	"buildrelay.app/relay/internal/service"
	"buildrelay.app/relay/internal/store"
	"buildrelay.app/relay/internal/worker"
)

// reclaimMinIdle is how long a pending message must go without a heartbeat
// before another consumer takes it over.
const reclaimMinIdle = 5 * time.Minute

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	if !cfg.Pipeline.UsesRedis() {
		slog.ErrorContext(ctx, "worker needs NOTIFY_QUEUE=redis; the inline backend delivers from cmd/server")
		os.Exit(1)
	}

	slog.InfoContext(ctx, "relay worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node id than the server.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	sealer, err := sealed.New(cfg.Credentials.Key)
	if err != nil {
		slog.ErrorContext(ctx, "invalid CREDENTIAL_KEY", "error", err)
		os.Exit(1)
	}

	// Send-only: the worker never polls for updates.
	telegram, err := chat.NewTelegram(chat.TelegramConfig{
		Token:         cfg.Telegram.Token,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		UploadTimeout: cfg.Telegram.UploadTimeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to telegram", "error", err)
		os.Exit(1)
	}

	artifacts, err := store.NewLocalArtifactStore(cfg.Artifacts.Root)
	if err != nil {
		slog.ErrorContext(ctx, "invalid ARTIFACT_ROOT", "error", err)
		os.Exit(1)
	}

	ciOpts := ci.DefaultOptions()
	ciOpts.Logger = slog.Default()

	stores := store.NewStores(database.Queries())
	services := service.NewServices(stores, service.NewTxRunner(database), sealer, service.NewClientFactory(ciOpts))

	pipeline := notify.NewPipeline(notify.Deps{
		Messenger: telegram,
		Ledger:    services.Ledger(),
		Clients:   services.Credentials(),
		Artifacts: artifacts,
	}, notify.Config{
		PropertiesFile: cfg.Artifacts.PropertiesFile,
		PathKey:        cfg.Artifacts.PathKey,
		FetchTimeout:   cfg.Artifacts.FetchTimeout,
	})

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    int64(cfg.Pipeline.Concurrency),
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, pipeline, worker.Config{
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		Concurrency:       cfg.Pipeline.Concurrency,
		HeartbeatInterval: reclaimMinIdle / 5,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   reclaimMinIdle,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, w.Handle)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first; the worker may still be uploading artifacts.
	reclaimer.Stop()

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-stopped:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
 ____        _ _     _   ____      _               __        __         _
| __ ) _   _(_) | __| | |  _ \ ___| | __ _ _   _   \ \      / /__  _ __| | _____ _ __
|  _ \| | | | | |/ _' | | |_) / _ \ |/ _' | | | |   \ \ /\ / / _ \| '__| |/ / _ \ '__|
| |_) | |_| | | | (_| | |  _ <  __/ | (_| | |_| |    \ V  V / (_) | |  |   <  __/ |
|____/ \__,_|_|_|\__,_| |_| \_\___|_|\__,_|\__, |     \_/\_/ \___/|_|  |_|\_\___|_|
                                           |___/
`
