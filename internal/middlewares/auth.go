package middlewares

// 认证中间件：优先校验 Authorization: Bearer 访问令牌，否则回退到签名会话 Cookie。

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"

	"clonetwitter/internal/services"
)

const principalKey = "principal"

// Authenticator 为认证中间件所需的最小能力，*services.AuthService 满足该接口。
type Authenticator interface {
	AuthenticateBearer(ctx context.Context, token string) (*services.Principal, error)
	AuthenticateSession(ctx context.Context, sid string) (*services.Principal, error)
}

// RequireAuth 认证失败时调用 onFail 输出响应并中止；成功时把 Principal 写入 Gin Context。
func RequireAuth(a Authenticator, cookies *securecookie.SecureCookie, cookieName string, onFail func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := authenticate(c, a, cookies, cookieName)
		if err != nil {
			onFail(c, err)
			c.Abort()
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func authenticate(c *gin.Context, a Authenticator, cookies *securecookie.SecureCookie, cookieName string) (*services.Principal, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return nil, services.AuthenticationError("Authorization header must contain two space-delimited values")
		}
		p, err := a.AuthenticateBearer(c, strings.TrimSpace(token))
		if err != nil {
			return nil, err
		}
		// 同时携带会话 Cookie 时记录 sid，便于登出时一并删除
		if sid, ok := DecodeSessionCookie(c, cookies, cookieName); ok {
			p.SID = sid
		}
		return p, nil
	}
	if sid, ok := DecodeSessionCookie(c, cookies, cookieName); ok {
		return a.AuthenticateSession(c, sid)
	}
	return nil, services.AuthenticationError("Authentication credentials were not provided.")
}

// DecodeSessionCookie 读取并校验签名会话 Cookie，返回其中的 sid。
func DecodeSessionCookie(c *gin.Context, cookies *securecookie.SecureCookie, name string) (string, bool) {
	ck, err := c.Request.Cookie(name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	var sid string
	if err := cookies.Decode(name, ck.Value, &sid); err != nil || sid == "" {
		return "", false
	}
	return sid, true
}

// PrincipalFrom 返回 RequireAuth 写入的调用者。
func PrincipalFrom(c *gin.Context) (*services.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*services.Principal)
	return p, ok && p != nil
}
