package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"clonetwitter/internal/storage"
	"clonetwitter/internal/utils"
)

// ErrRefreshTokenInvalid 表示刷新令牌不存在、已用过或已过期。
var ErrRefreshTokenInvalid = errors.New("refresh_token_invalid")

// RefreshGrant 为刷新令牌在 KV 中对应的授权记录；令牌本身只以摘要形式出现在键里。
type RefreshGrant struct {
	UserID   uint64    `json:"uid"`
	SID      string    `json:"sid"`
	IssuedAt time.Time `json:"iat"`
}

// RefreshService 签发一次性的不透明刷新令牌，每次使用都会旋转。
type RefreshService struct {
	kv  storage.KV
	ttl time.Duration
}

func NewRefreshService(kv storage.KV, ttl time.Duration) *RefreshService {
	return &RefreshService{kv: kv, ttl: ttl}
}

func refreshKey(token string) string { return "refresh:" + utils.Fingerprint(token) }

// Issue 为 (userID, sid) 签发新的刷新令牌。
func (s *RefreshService) Issue(ctx context.Context, userID uint64, sid string) (string, error) {
	token, err := utils.RandString(32)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	b, err := json.Marshal(RefreshGrant{UserID: userID, SID: sid, IssuedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, refreshKey(token), b, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// Lookup 读取令牌对应的授权，不消耗令牌。
func (s *RefreshService) Lookup(ctx context.Context, token string) (*RefreshGrant, error) {
	raw, err := s.kv.Get(ctx, refreshKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	var g RefreshGrant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, ErrRefreshTokenInvalid
	}
	return &g, nil
}

// Rotate 作废旧令牌并为同一授权签发新令牌。
// 删除计数为 0 说明令牌已被并发请求用掉，此时不再签发。
func (s *RefreshService) Rotate(ctx context.Context, token string, g *RefreshGrant) (string, error) {
	n, err := s.kv.Del(ctx, refreshKey(token)).Result()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrRefreshTokenInvalid
	}
	return s.Issue(ctx, g.UserID, g.SID)
}

// Revoke 直接作废令牌。
func (s *RefreshService) Revoke(ctx context.Context, token string) error {
	return s.kv.Del(ctx, refreshKey(token)).Err()
}
