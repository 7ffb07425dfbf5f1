package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"

	"clonetwitter/internal/config"
	"clonetwitter/internal/metrics"
	"clonetwitter/internal/middlewares"
	"clonetwitter/internal/services"
	"clonetwitter/internal/storage"
)

// Services 聚合 Handler 依赖的领域服务。
type Services struct {
	Users *services.UserService
	Auth  *services.AuthService
	Posts *services.PostService
	Feed  *services.FeedService
	Logs  *services.LogService
}

// Handler 聚合所有依赖（配置、KV、服务）并注册所有 HTTP 路由。
type Handler struct {
	cfg     config.Config
	userSvc *services.UserService
	authSvc *services.AuthService
	postSvc *services.PostService
	feedSvc *services.FeedService
	logSvc  *services.LogService
	kv      storage.KV
	cookies *securecookie.SecureCookie
}

// New 构造 Handler，将各领域服务注入，用于后续路由注册与处理。
func New(cfg config.Config, svcs Services, kv storage.KV) *Handler {
	cookies := securecookie.New([]byte(cfg.Session.HashKey), nil)
	cookies.MaxAge(int(cfg.Session.TTL.Seconds()))
	return &Handler{
		cfg:     cfg,
		userSvc: svcs.Users,
		authSvc: svcs.Auth,
		postSvc: svcs.Posts,
		feedSvc: svcs.Feed,
		logSvc:  svcs.Logs,
		kv:      kv,
		cookies: cookies,
	}
}

// Engine 创建挂载全部中间件与路由的 Gin 引擎。
func (h *Handler) Engine() *gin.Engine {
	r := gin.New()
	// 让 c.Value 回退到请求 context（携带请求 ID）
	r.ContextWithFallback = true
	r.MaxMultipartMemory = h.cfg.Media.MaxUploadBytes
	r.Use(gin.Recovery(), middlewares.RequestID(), middlewares.RequestLogger(), middlewares.SecurityHeaders(h.cfg.Security), metrics.Handler())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes 在 Gin 路由上挂载身份与帖子相关端点，以及媒体与运维端点。
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	auth := middlewares.RequireAuth(h.authSvc, h.cookies, h.cfg.Session.CookieName, h.fail)
	window := h.cfg.Limits.Window
	if window <= 0 {
		window = time.Minute
	}

	user := r.Group("/user")
	user.POST("/signup/", h.signup)
	user.POST("/login/", middlewares.RateLimit(h.kv, "login", h.cfg.Limits.LoginPerMinute, window, func(c *gin.Context) string { return c.ClientIP() }), h.login)
	user.POST("/token/refresh/", h.refreshToken)
	user.POST("/logout/", auth, h.logout)
	user.GET("/", auth, h.profile)
	user.GET("/activity/", auth, h.activity)
	user.PATCH("/edit/", auth, h.editProfile)
	user.POST("/:id/action/", auth, h.followAction)

	post := r.Group("/post", auth)
	post.GET("/", h.listPosts)
	post.POST("/create/", h.createPost)
	post.GET("/feeds/refresh/", h.refreshFeeds)
	post.GET("/:id/", h.retrievePost)
	post.DELETE("/:id/", h.deletePost)
	post.PATCH("/:id/edit/", h.editPost)

	// 媒体文件（帖子图片）
	r.Static(h.cfg.Media.URLPrefix, h.cfg.Media.Root)

	// 运维端点
	r.GET("/metrics", h.metrics)
	r.GET("/healthz", h.healthz)
}

// @Summary      Prometheus 指标
// @Tags         ops
// @Produce      plain
// @Success      200 {string} string "metrics"
// @Router       /metrics [get]
func (h *Handler) metrics(c *gin.Context) { metrics.Exposer()(c) }

// @Summary      健康检查
// @Tags         ops
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /healthz [get]
func (h *Handler) healthz(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
