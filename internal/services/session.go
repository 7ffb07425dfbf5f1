package services

// 会话服务：在 KV 中创建、读取与删除登录会话，与访问令牌并行提供基于 Cookie 的认证。

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clonetwitter/internal/config"
	"clonetwitter/internal/storage"
)

// Session 表示服务端维护的登录会话。
// 存储在 KV：key=session:<sid>，值为 JSON。
type Session struct {
	SID      string    `json:"sid"`
	UserID   uint64    `json:"user_id"`
	AuthTime time.Time `json:"auth_time"`
}

// SessionService 提供会话的创建/读取/删除能力。
type SessionService struct {
	kv  storage.KV
	cfg config.Config
}

func NewSessionService(kv storage.KV, cfg config.Config) *SessionService {
	return &SessionService{kv: kv, cfg: cfg}
}

func (s *SessionService) key(sid string) string { return fmt.Sprintf("session:%s", sid) }

func (s *SessionService) New(ctx context.Context, userID uint64) (*Session, error) {
	sess := &Session{SID: uuid.NewString(), UserID: userID, AuthTime: time.Now().UTC()}
	b, _ := json.Marshal(sess)
	if err := s.kv.Set(ctx, s.key(sess.SID), b, s.cfg.Session.TTL).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, sid string) (*Session, error) {
	cmd := s.kv.Get(ctx, s.key(sid))
	if err := cmd.Err(); err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(cmd.Val()), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionService) Delete(ctx context.Context, sid string) error {
	return s.kv.Del(ctx, s.key(sid)).Err()
}
