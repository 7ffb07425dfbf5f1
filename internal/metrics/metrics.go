package metrics

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义：
// - http_requests_total：按路径与方法统计请求次数（附带状态码标签）
// - http_request_duration_seconds：按路径与方法统计请求耗时分布
// - feed_cache_lookups_total：feed 缓存查询结果（hit/miss/error）
// - posts_written_total：帖子写操作（create/edit/delete）
// - follow_actions_total：关注/取关成功次数
// - logins_total：登录结果（success/failure）
var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP 请求计数（按路径/方法/状态）"},
		[]string{"path", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP 请求耗时（秒）", Buckets: prometheus.DefBuckets},
		[]string{"path", "method"},
	)
	FeedCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_cache_lookups_total", Help: "feed 缓存查询计数（按 choice/结果）"},
		[]string{"choice", "result"},
	)
	PostsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "posts_written_total", Help: "帖子写操作计数"},
		[]string{"op"},
	)
	FollowActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "follow_actions_total", Help: "关注/取关计数"},
		[]string{"action"},
	)
	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logins_total", Help: "登录结果计数"},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, FeedCacheLookups, PostsWritten, FollowActions, Logins)
}

// Handler 返回记录基础 HTTP 指标的中间件（QPS/耗时）。
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		HTTPLatency.WithLabelValues(path, c.Request.Method).Observe(dur)
		HTTPRequests.WithLabelValues(path, c.Request.Method, fmt.Sprintf("%d", c.Writer.Status())).Inc()
	}
}

// Exposer 返回标准 Prometheus 暴露处理器。
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
