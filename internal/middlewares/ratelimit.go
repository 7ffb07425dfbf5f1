package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/storage"
)

// RateLimit 返回一个使用 INCR+TTL 固定窗口计数的限流中间件（Redis 或进程内 KV）。
// keyFn 用于构建请求者唯一键（如按 IP）；limit<=0 表示不限流。
func RateLimit(kv storage.KV, prefix string, limit int, window time.Duration, keyFn func(*gin.Context) string) gin.HandlerFunc {
	if window <= 0 {
		window = time.Minute
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" || limit <= 0 {
			c.Next()
			return
		}
		rkey := fmt.Sprintf("rl:%s:%s", prefix, key)
		// 第一次自增时同时设置 TTL 窗口
		cnt, err := kv.Incr(c, rkey).Result()
		if err != nil {
			// 计数失败时放行
			log.WithError(err).WithField("key", rkey).Warn("rate limit counter failed")
			c.Next()
			return
		}
		if cnt == 1 {
			_ = kv.Expire(c, rkey, window).Err()
		}
		if cnt > int64(limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"status": "Failed", "message": "Request was throttled. Please try again later"})
			return
		}
		c.Next()
	}
}
