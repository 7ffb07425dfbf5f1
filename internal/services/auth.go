package services

// 认证服务：登录签发令牌对并建立会话；支持刷新令牌旋转、登出撤销，以及请求级的双模式认证（Bearer 或会话 Cookie）。

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"clonetwitter/internal/metrics"
)

// Principal 表示已认证的调用者。
type Principal struct {
	UserID uint64
	// 通过 Bearer 认证时的令牌标识与过期时间（用于登出撤销）
	JTI       string
	ExpiresAt time.Time
	// 通过会话认证时的会话 ID
	SID string
}

// LoginResult 为登录成功后的令牌对、会话与资料。
type LoginResult struct {
	Access    string
	Refresh   string
	ExpiresAt time.Time
	Session   *Session
	Profile   *Profile
}

// AuthService 编排用户、令牌、会话、刷新令牌与撤销服务。
type AuthService struct {
	users    *UserService
	tokens   *TokenService
	sessions *SessionService
	refresh  *RefreshService
	revoke   *RevocationService
}

func NewAuthService(users *UserService, tokens *TokenService, sessions *SessionService, refresh *RefreshService, revoke *RevocationService) *AuthService {
	return &AuthService{users: users, tokens: tokens, sessions: sessions, refresh: refresh, revoke: revoke}
}

// Login 校验凭据，创建会话并签发访问令牌与刷新令牌。
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		if KindOf(err) == KindAuthentication {
			metrics.Logins.WithLabelValues("failure").Inc()
		}
		return nil, err
	}
	sess, err := s.sessions.New(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	access, exp, _, err := s.tokens.IssueAccessToken(u.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.refresh.Issue(ctx, u.ID, sess.SID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	profile, err := s.users.profileOf(ctx, u)
	if err != nil {
		return nil, err
	}
	metrics.Logins.WithLabelValues("success").Inc()
	return &LoginResult{Access: access, Refresh: refresh, ExpiresAt: exp, Session: sess, Profile: profile}, nil
}

// Refresh 使用刷新令牌换取新的访问令牌，并旋转刷新令牌。
func (s *AuthService) Refresh(ctx context.Context, token string) (access, refresh string, err error) {
	if token == "" {
		return "", "", ValidationError("refresh: This field is required.")
	}
	grant, err := s.refresh.Lookup(ctx, token)
	if errors.Is(err, ErrRefreshTokenInvalid) {
		return "", "", AuthenticationError("Token is invalid or expired")
	}
	if err != nil {
		return "", "", fmt.Errorf("lookup refresh token: %w", err)
	}
	u, err := s.users.FindByID(ctx, grant.UserID)
	if err != nil || !u.IsActive {
		_ = s.refresh.Revoke(ctx, token)
		return "", "", AuthenticationError("Token is invalid or expired")
	}
	newRefresh, err := s.refresh.Rotate(ctx, token, grant)
	if errors.Is(err, ErrRefreshTokenInvalid) {
		return "", "", AuthenticationError("Token is invalid or expired")
	}
	if err != nil {
		return "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	access, _, _, err = s.tokens.IssueAccessToken(u.ID)
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}
	return access, newRefresh, nil
}

// Logout 删除会话并撤销当前访问令牌（若以 Bearer 认证）。
func (s *AuthService) Logout(ctx context.Context, p *Principal) error {
	if p == nil {
		return AuthenticationError("Authentication credentials were not provided.")
	}
	if p.SID != "" {
		if err := s.sessions.Delete(ctx, p.SID); err != nil {
			log.WithError(err).Warn("session delete failed")
		}
	}
	if p.JTI != "" {
		if err := s.revoke.Revoke(ctx, p.JTI, p.ExpiresAt); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	return nil
}

// AuthenticateBearer 校验访问令牌：签名/有效期/类型、未被撤销、用户存在且激活。
func (s *AuthService) AuthenticateBearer(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, AuthenticationError("Given token not valid for any token type")
	}
	revoked, err := s.revoke.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, AuthenticationError("Token has been revoked")
	}
	if err := s.activeUser(ctx, claims.UserID); err != nil {
		return nil, err
	}
	p := &Principal{UserID: claims.UserID, JTI: claims.ID}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// AuthenticateSession 根据会话 ID 认证调用者。
func (s *AuthService) AuthenticateSession(ctx context.Context, sid string) (*Principal, error) {
	sess, err := s.sessions.Get(ctx, sid)
	if err != nil {
		return nil, AuthenticationError("Authentication credentials were not provided.")
	}
	if err := s.activeUser(ctx, sess.UserID); err != nil {
		return nil, err
	}
	return &Principal{UserID: sess.UserID, SID: sess.SID}, nil
}

func (s *AuthService) activeUser(ctx context.Context, id uint64) error {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return AuthenticationError("User not found")
		}
		return err
	}
	if !u.IsActive {
		return AuthenticationError("User is inactive")
	}
	return nil
}
