package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/middlewares"
	"clonetwitter/internal/services"
)

// envelope 为所有 API 响应的统一外壳。
type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *Handler) success(c *gin.Context, code int, message string, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(code, envelope{Status: "Success", Message: message, Data: data})
}

// fail 将错误映射为失败外壳：领域错误按类别选择状态码，其余错误记录日志并返回 500。
func (h *Handler) fail(c *gin.Context, err error) {
	kind := services.KindOf(err)
	if kind == 0 {
		log.WithFields(log.Fields{
			"request_id": c.GetString(middlewares.RequestIDKey),
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("internal error")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, envelope{Status: "Failed", Message: "Internal server error"})
		return
	}
	c.JSON(h.statusFor(kind), envelope{Status: "Failed", Message: err.Error()})
}

func (h *Handler) statusFor(kind services.ErrorKind) int {
	if h.cfg.Errors.CompatFlat400 {
		return http.StatusBadRequest
	}
	switch kind {
	case services.KindAuthentication:
		return http.StatusUnauthorized
	case services.KindAuthorization:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	default:
		// Validation 与 SelfReference 都属于错误请求
		return http.StatusBadRequest
	}
}

// caller 返回认证中间件写入的调用者；路由均在 RequireAuth 之后，缺失视为未认证。
func (h *Handler) caller(c *gin.Context) (*services.Principal, bool) {
	p, ok := middlewares.PrincipalFrom(c)
	if !ok {
		h.fail(c, services.AuthenticationError("Authentication credentials were not provided."))
	}
	return p, ok
}

// audit 写入一条审计日志（尽力而为）。
func (h *Handler) audit(c *gin.Context, level, event string, userID *uint64, desc string) {
	if h.logSvc == nil {
		return
	}
	h.logSvc.Write(c, level, event, userID, desc, c.ClientIP(), c.GetString(middlewares.RequestIDKey))
}
