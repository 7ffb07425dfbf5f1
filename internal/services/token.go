package services

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"clonetwitter/internal/config"
)

// AccessClaims 为访问令牌携带的声明。
type AccessClaims struct {
	UserID    uint64 `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService 负责签发与校验 HS256 访问令牌。
type TokenService struct {
	cfg config.Config
	now func() time.Time
}

func NewTokenService(cfg config.Config) *TokenService {
	return &TokenService{cfg: cfg, now: time.Now}
}

// SetClock 仅用于测试，替换内部时间函数。
func (s *TokenService) SetClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// IssueAccessToken 签发访问令牌，返回令牌、过期时间与 jti。
func (s *TokenService) IssueAccessToken(userID uint64) (string, time.Time, string, error) {
	now := s.now()
	exp := now.Add(s.cfg.Token.AccessTokenTTL)
	jti := uuid.NewString()
	claims := AccessClaims{
		UserID:    userID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Token.Issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Token.SigningKey))
	if err != nil {
		return "", time.Time{}, "", err
	}
	return signed, exp, jti, nil
}

// VerifyAccessToken 校验签名、算法、有效期与令牌类型。
func (s *TokenService) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Token.SigningKey), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.cfg.Token.Issuer))
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "access" || claims.UserID == 0 {
		return nil, errors.New("invalid_token")
	}
	return claims, nil
}
