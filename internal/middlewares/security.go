package middlewares

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"clonetwitter/internal/config"
)

// SecurityHeaders 为 JSON API 与媒体文件设置统一的安全响应头。
// HSTS 只在 HTTPS（直连 TLS 或反代声明 X-Forwarded-Proto）时下发。
func SecurityHeaders(sc config.SecurityConfig) gin.HandlerFunc {
	hsts := ""
	if sc.HSTS.Enabled && sc.HSTS.MaxAgeSeconds > 0 {
		hsts = "max-age=" + strconv.Itoa(sc.HSTS.MaxAgeSeconds)
		if sc.HSTS.IncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		if hsts != "" && (c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}
