package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"clonetwitter/internal/services"
)

// setNoCache 为敏感响应添加禁止缓存的标准响应头。
func setNoCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// sessionCookie 构造会话 Cookie，属性与配置保持一致；maxAge<0 表示删除。
func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{Name: h.cfg.Session.CookieName, Value: value, Path: "/", MaxAge: maxAge, HttpOnly: true, Secure: h.cfg.Session.CookieSecure}
	switch strings.ToLower(h.cfg.Session.CookieSameSite) {
	case "strict":
		ck.SameSite = http.SameSiteStrictMode
	case "none":
		ck.SameSite = http.SameSiteNoneMode
	default:
		ck.SameSite = http.SameSiteLaxMode
	}
	if h.cfg.Session.CookieDomain != "" {
		ck.Domain = h.cfg.Session.CookieDomain
	}
	return ck
}

// setSessionCookie 以 securecookie 签名 sid 后写入 Cookie。
func (h *Handler) setSessionCookie(c *gin.Context, sid string) error {
	encoded, err := h.cookies.Encode(h.cfg.Session.CookieName, sid)
	if err != nil {
		return err
	}
	http.SetCookie(c.Writer, h.sessionCookie(encoded, int(h.cfg.Session.TTL.Seconds())))
	return nil
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, h.sessionCookie("", -1))
}

// pathID 解析路径中的数字 ID；非法值按不存在处理。
func pathID(c *gin.Context, name, kind string) (uint64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, services.NotFoundError("No %s exists with this ID \"%s\"", kind, raw)
	}
	return id, nil
}
