package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sudooom.storefront/internal/api"
	"sudooom.storefront/internal/channel"
	"sudooom.storefront/internal/config"
	"sudooom.storefront/internal/health"
	"sudooom.storefront/internal/httpapi"
	"sudooom.storefront/internal/identity"
	"sudooom.storefront/internal/logger"
	"sudooom.storefront/internal/model"
	imNats "sudooom.storefront/internal/nats"
	"sudooom.storefront/internal/session"
	"sudooom.storefront/internal/storage"
)

func main() {
	configPath := flag.String("config", config.GetEnv("STOREFRONT_CONFIG", "configs/config.yaml"), "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// 初始化日志
	log := logger.New(logger.Options{
		Service: cfg.App.Name,
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
	})

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 解析 viewer 身份
	viewer := resolveViewer(cfg.Session, log)

	// 初始化持久化存储
	store, pinger, closeStore, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		log.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	log.Info("Storage ready", "driver", cfg.Storage.Driver)

	// 连接 NATS；未配置时使用进程内通道
	var (
		source     channel.Source
		natsClient *imNats.Client
	)
	if cfg.NATS.URL != "" {
		natsClient, err = imNats.NewClient(cfg.NATS, cfg.Session.AccessToken)
		if err != nil {
			log.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		source = channel.NewNATSSource(natsClient.Conn(), cfg.NATS.SubjectPrefix)
		log.Info("Connected to NATS", "url", cfg.NATS.URL)
	} else {
		source = channel.NewLocalSource()
		log.Warn("NATS not configured, push channel is local only")
	}

	// 创建会话
	backend := api.NewClient(cfg.API, cfg.Session.AccessToken, api.WithLogger(log))
	sess, err := session.New(ctx, session.Config{
		StoreID:        viewer.StoreID,
		ViewerID:       viewer.UserID,
		Role:           viewer.Role,
		OwnerID:        cfg.Session.OwnerID,
		CartKey:        cfg.Storage.Key,
		NoticeDelay:    cfg.Cart.NoticeDelay,
		StorageTimeout: cfg.Cart.IOTimeout,
		RequestTimeout: cfg.API.Timeout,
		PollInterval:   cfg.Unread.PollInterval,
		QueueSize:      cfg.EventLoop.QueueSize,
	}, session.Deps{
		Storage: store,
		Source:  source,
		Backend: backend,
	}, log)
	if err != nil {
		log.Error("Failed to create session", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		log.Error("Failed to start session", "error", err)
		os.Exit(1)
	}

	// 启动状态 HTTP 服务
	checker := health.NewChecker(cfg.App.Name, natsClient.Conn(), pinger, sess.Ledger(), sess)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httpapi.SetupRouter(cfg.HTTP.Mode, checker, httpapi.NewHandler(sess)),
	}
	go func() {
		log.Info("Status server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Status server failed", "error", err)
		}
	}()

	log.Info("Storefront sync started",
		"store_id", viewer.StoreID,
		"viewer_id", viewer.UserID,
		"role", viewer.Role,
	)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Status server shutdown failed", "error", err)
	}
	cancel()
	sess.Close()
	log.Info("Storefront sync stopped")
}

// resolveViewer 优先使用访问令牌中的身份，缺失字段由配置补齐
func resolveViewer(cfg config.SessionConfig, log *slog.Logger) identity.Viewer {
	viewer := identity.Viewer{
		UserID:  cfg.ViewerID,
		Role:    model.SenderRole(cfg.ViewerRole),
		StoreID: cfg.StoreID,
	}
	if cfg.AccessToken == "" {
		return viewer
	}

	parsed, err := identity.ParseViewer(cfg.AccessToken)
	if err != nil {
		log.Warn("Access token could not be parsed, using configured identity", "error", err)
		return viewer
	}
	if parsed.Expired(time.Now()) {
		log.Warn("Access token has expired", "expires_at", parsed.ExpiresAt)
	}
	if parsed.UserID != "" {
		viewer.UserID = parsed.UserID
	}
	if parsed.Role != "" {
		viewer.Role = parsed.Role
	}
	if viewer.StoreID == "" {
		viewer.StoreID = parsed.StoreID
	}
	return viewer
}

// openStorage 按驱动创建购物车存储；memory 驱动没有探活
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, storage.Pinger, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStorage(), nil, noop, nil

	case "file":
		fs, err := storage.NewFileStorage(cfg.Dir)
		if err != nil {
			return nil, nil, noop, err
		}
		return fs, fs, noop, nil

	case "redis":
		client := connectRedis(cfg.Redis)
		rs := storage.NewRedisStorage(client, cfg.Redis.Prefix)
		return rs, rs, func() { client.Close() }, nil

	case "postgres":
		db, err := connectDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, nil, noop, err
		}
		ps, err := storage.NewPostgresStorage(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, noop, err
		}
		return ps, ps, db.Close, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
