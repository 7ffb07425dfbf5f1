package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"clonetwitter/internal/storage"
)

const revokedPrefix = "revoked:jti:"

// RevocationService 维护已登出访问令牌的 jti 黑名单；条目只保留到令牌自身过期。
type RevocationService struct {
	kv  storage.KV
	now func() time.Time
}

func NewRevocationService(kv storage.KV) *RevocationService {
	return &RevocationService{kv: kv, now: time.Now}
}

// Revoke 拉黑 jti 直至 expiresAt；已过期的令牌无需记录。
func (s *RevocationService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if jti == "" || ttl <= 0 {
		return nil
	}
	return s.kv.Set(ctx, revokedPrefix+jti, expiresAt.Unix(), ttl).Err()
}

// Revoked 报告 jti 是否在黑名单中。KV 不可用时返回错误，由调用方决定拒绝请求。
func (s *RevocationService) Revoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	err := s.kv.Get(ctx, revokedPrefix+jti).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, err
	}
}
