package middlewares

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clonetwitter/internal/services"
)

// RequestIDKey 为请求 ID 在 Gin Context 中的键。
const RequestIDKey = "request_id"

const requestIDHeader = "X-Request-Id"

// RequestID 透传上游的 X-Request-Id（过长或含非法字符时重新生成），
// 同时写入请求 context，使 services 发布的事件带上同一 ID。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), services.RequestIDKey, rid))
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
