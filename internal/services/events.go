package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// 领域事件主题（相对 SubjectPrefix）
const (
	SubjectPostCreated    = "post.created"
	SubjectPostUpdated    = "post.updated"
	SubjectPostDeleted    = "post.deleted"
	SubjectUserFollowed   = "user.followed"
	SubjectUserUnfollowed = "user.unfollowed"
)

// EventPublisher 以尽力而为的方式向外发布领域事件；事件不影响 feed 缓存。
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// PostEvent 为 post.* 事件的负载。
type PostEvent struct {
	PostID    uint64    `json:"post_id"`
	PosterID  uint64    `json:"poster_id"`
	HasImage  bool      `json:"has_image"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowEvent 为 user.followed / user.unfollowed 事件的负载。
type FollowEvent struct {
	FollowerID uint64    `json:"follower_id"`
	FolloweeID uint64    `json:"followee_id"`
	At         time.Time `json:"at"`
}

// NopPublisher 丢弃所有事件（未配置 NATS 时使用）。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// NATSPublisher 将事件序列化为 JSON 后发布到 NATS。
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// ConnectNATS 连接 NATS；断线后由客户端自动重连。
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("clonetwitter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if p.prefix != "" {
		subject = p.prefix + "." + subject
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if rid, ok := ctx.Value(RequestIDKey).(string); ok && rid != "" {
		msg.Header.Set("X-Request-Id", rid)
	}
	return p.nc.PublishMsg(msg)
}

// publish 发布事件并吞掉错误（仅记录日志）。
func publish(ctx context.Context, p EventPublisher, subject string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		log.WithError(err).WithField("subject", subject).Warn("event publish failed")
	}
}

type ctxKey string

// RequestIDKey 为请求 ID 在 context 中的键，由 HTTP 中间件写入。
const RequestIDKey ctxKey = "request_id"
