package main

// @title           CloneTwitter API
// @version         0.1.0
// @description     基于 Go(Gin) 的社交网络后端：注册、登录、资料、关注/取关，以及帖子与按用户缓存的 feed。
// @schemes         http https
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/config"
	"clonetwitter/internal/handlers"
	"clonetwitter/internal/services"
	"clonetwitter/internal/storage"
	"clonetwitter/internal/utils"
)

// main 为服务入口：加载配置、初始化日志/存储/服务、注册路由并启动 HTTP 服务。
func main() {
	// 配置结构化日志格式
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// 加载配置（以配置文件为主，配合内置默认值）
	cfg := config.Load()
	// 生产环境基线检查：禁止默认密钥与默认数据库密码进入生产。
	if cfg.Env == "prod" {
		if cfg.Database.Driver != "sqlite" && (cfg.Database.Password == "123456" || cfg.Database.Password == "password" || cfg.Database.Password == "") {
			log.Fatal("insecure database password in prod; configure database.password in config.yaml")
		}
		if strings.Contains(cfg.Database.User, "root") {
			log.Warn("using database root user in prod is discouraged")
		}
		if cfg.Token.SigningKey == config.Default().Token.SigningKey || len(cfg.Token.SigningKey) < 32 {
			log.Fatal("insecure token.signing_key in prod; set a random key of at least 32 bytes")
		}
		if cfg.Session.HashKey == config.Default().Session.HashKey {
			log.Fatal("insecure session.hash_key in prod; set session.hash_key")
		}
		if !cfg.Session.CookieSecure {
			log.Warn("session.cookie_secure is disabled in prod")
		}
	}
	if cfg.Session.HashKey == "" {
		// 未配置时使用进程级临时密钥：重启后已有会话 Cookie 失效
		key, err := utils.RandString(32)
		if err != nil {
			log.WithError(err).Fatal("generate session hash key")
		}
		cfg.Session.HashKey = key
		log.Warn("session.hash_key not set; using an ephemeral key")
	}
	log.WithFields(log.Fields{
		"env":           cfg.Env,
		"http_addr":     cfg.HTTPAddr,
		"db_driver":     cfg.Database.Driver,
		"db_dsn":        cfg.Database.DSNMasked(),
		"cache_backend": cfg.Cache.Backend,
		"redis_addr":    cfg.Redis.Addr,
		"feed_ttl":      cfg.Feed.CacheTTL.String(),
		"nats":          cfg.NATS.URL != "",
	}).Info("configuration loaded")

	// 初始化存储（关系库 + KV）
	db, err := storage.InitDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect database")
	}
	defer storage.CloseDatabase(db)

	var kv storage.KV
	switch cfg.Cache.Backend {
	case "memory":
		mem, err := storage.NewMemoryKV(cfg.Cache.MaxEntries)
		if err != nil {
			log.WithError(err).Fatal("init memory cache")
		}
		kv = mem
	default:
		rdb, err := storage.InitRedis(cfg)
		if err != nil {
			log.WithError(err).Fatal("failed to connect redis")
		}
		defer func() { _ = rdb.Close() }()
		kv = rdb
	}

	// 领域事件（可选）
	var events services.EventPublisher = services.NopPublisher{}
	if cfg.NATS.URL != "" {
		nc, err := services.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect nats")
		}
		defer nc.Drain()
		events = services.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
	}

	// 初始化核心服务
	userSvc := services.NewUserService(db, events)
	tokenSvc := services.NewTokenService(cfg)
	sessionSvc := services.NewSessionService(kv, cfg)
	refreshSvc := services.NewRefreshService(kv, cfg.Token.RefreshTokenTTL)
	revokeSvc := services.NewRevocationService(kv)
	authSvc := services.NewAuthService(userSvc, tokenSvc, sessionSvc, refreshSvc, revokeSvc)
	postSvc := services.NewPostService(db, services.NewImageService(cfg.Media), events, cfg.Media.URLPrefix)
	feedSvc := services.NewFeedService(db, services.NewKVFeedCache(kv), cfg.Feed.CacheTTL, cfg.Media.URLPrefix)
	logSvc := services.NewLogService(db)

	// HTTP 路由与中间件
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.New(cfg, handlers.Services{
		Users: userSvc, Auth: authSvc, Posts: postSvc, Feed: feedSvc, Logs: logSvc,
	}, kv)
	router := h.Engine()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	// 优雅退出
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown")
	} else {
		log.Info("server stopped")
	}
}
