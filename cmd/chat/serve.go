package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sudooom.im.chat/internal/buffer"
	"sudooom.im.chat/internal/config"
	"sudooom.im.chat/internal/handler"
	"sudooom.im.chat/internal/health"
	"sudooom.im.chat/internal/identity"
	chatnats "sudooom.im.chat/internal/nats"
	"sudooom.im.chat/internal/presence"
	"sudooom.im.chat/internal/realtime"
	chatredis "sudooom.im.chat/internal/redis"
	"sudooom.im.chat/internal/repository"
	"sudooom.im.chat/internal/router"
	"sudooom.im.chat/internal/service"
	"sudooom.im.chat/internal/task"
	"sudooom.im.chat/internal/workerpool"
	"sudooom.im.chat/pkg/snowflake"
)

const (
	shutdownTimeout = 15 * time.Second
	lockExpiry      = 10 * time.Second
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), !skipMigrate)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply migrations on startup")
}

func runServe(parent context.Context, migrateFirst bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateFirst {
		if err := repository.Migrate(cfg.Database); err != nil {
			return err
		}
	}

	// 连接数据库
	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// 连接 Redis（缓冲或在线状态任一使用 Redis 时）
	var redisClient *goredis.Client
	if cfg.Chat.BufferBackend == config.BackendRedis || cfg.Chat.PresenceBackend == config.BackendRedis {
		redisClient, err = chatredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// 在线状态
	registry := newRegistry(cfg.Chat.PresenceBackend, redisClient)
	if err := registry.Open(ctx); err != nil {
		return fmt.Errorf("open presence registry: %w", err)
	}
	defer registry.Close()

	// 延迟任务调度
	scheduler := task.NewScheduler(cfg.Scheduler.Tick, cfg.Scheduler.Slots, cfg.Scheduler.Workers)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	// 初始化 Repository
	conversationRepo := repository.NewConversationRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// 写回缓冲
	store, locker := newBufferBackend(cfg.Chat.BufferBackend, redisClient)
	buf := buffer.New(store, locker, buffer.NewDebounceScheduler(scheduler, cfg.Chat.FlushDelay), conversationRepo)

	resolver, err := identity.NewResolver(accountRepo, cfg.Identity.CacheSize)
	if err != nil {
		return fmt.Errorf("create identity resolver: %w", err)
	}

	ids := snowflake.NewNode(cfg.App.NodeID)
	hub := realtime.NewHub()
	defer hub.Close()

	// 下行通道：单节点直接写本地 hub，多节点经 NATS 广播
	var publisher realtime.Publisher = realtime.NewLocalPublisher(hub)
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsClient, err := chatnats.NewClient(cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		natsConn = natsClient.Conn()
	}
	if cfg.Chat.Transport == config.TransportNATS {
		publisher = chatnats.NewPublisher(natsConn, "chat-"+strconv.FormatInt(cfg.App.NodeID, 10))

		subscriber := chatnats.NewSubscriber(natsConn, hub, chatnats.SubscriberConfig{
			WorkerCount: cfg.Chat.DispatchWorkers,
			BufferSize:  cfg.Chat.DispatchQueueSize,
		})
		if err := subscriber.Start(ctx); err != nil {
			return fmt.Errorf("start downstream subscriber: %w", err)
		}
		defer subscriber.Stop()
	}

	// 初始化 Service
	notificationService := service.NewNotificationService(notificationRepo, registry, publisher, ids)
	chatService := service.NewChatService(service.ChatDeps{
		Store:     conversationRepo,
		Buffer:    buf,
		Presence:  registry,
		Resolver:  resolver,
		Profiles:  accountRepo,
		Publisher: publisher,
		Notifier:  notificationService,
		Scheduler: scheduler,
		Sessions:  hub,
		IDs:       ids,
	}, service.ChatOptions{
		AutoReadDelay: cfg.Chat.AutoReadDelay,
		PreviewLength: cfg.Chat.PreviewLength,
	})
	queryService := service.NewQueryService(conversationRepo, buf, registry, accountRepo)

	// 上行事件按会话分片顺序处理
	pool := workerpool.New(cfg.Chat.DispatchWorkers, cfg.Chat.DispatchQueueSize, logger)

	// 初始化 Handler
	wsHandler := handler.NewWSHandler(ctx, chatService, hub, pool, cfg.App.AllowedOrigins)
	chatHandler := handler.NewChatHandler(queryService)
	notificationHandler := handler.NewNotificationHandler(notificationService)

	var redisHealth goredis.UniversalClient
	if redisClient != nil {
		redisHealth = redisClient
	}
	checker := health.NewChecker(db, natsConn, redisHealth, hub)

	// 设置路由
	r := router.SetupRouter(cfg, checker, wsHandler, chatHandler, notificationHandler)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("Chat server started",
			"addr", srv.Addr,
			"mode", cfg.App.Mode,
			"transport", cfg.Chat.Transport,
			"buffer", cfg.Chat.BufferBackend,
			"presence", cfg.Chat.PresenceBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 先停止接入，再排空上行事件，最后把缓冲全部落库
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		hub.Close()
		pool.Shutdown()
		if err := buf.DrainAll(shutdownCtx); err != nil {
			logger.Error("Failed to drain message buffer", "error", err)
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newRegistry(backend string, client *goredis.Client) presence.Registry {
	if backend == config.BackendRedis {
		return presence.NewRedisRegistry(client)
	}
	return presence.NewMemoryRegistry()
}

func newBufferBackend(backend string, client *goredis.Client) (buffer.Store, buffer.Locker) {
	if backend == config.BackendRedis {
		return buffer.NewRedisStore(client), buffer.NewRedsyncLocker(client, lockExpiry)
	}
	return buffer.NewMemoryStore(), buffer.NewLocalLocker()
}
