package services

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"clonetwitter/internal/storage"
)

// 审计事件名称
const (
	EventSignup       = "USER_SIGNUP"
	EventLoginSuccess = "USER_LOGIN"
	EventLoginFailure = "USER_LOGIN_FAILED"
	EventLogout       = "USER_LOGOUT"
	EventFollow       = "USER_FOLLOW"
	EventUnfollow     = "USER_UNFOLLOW"
	EventPostCreated  = "POST_CREATED"
	EventPostEdited   = "POST_EDITED"
	EventPostDeleted  = "POST_DELETED"
)

// LogService 将审计日志持久化到数据库。
type LogService struct{ db *gorm.DB }

func NewLogService(db *gorm.DB) *LogService { return &LogService{db: db} }

// Write 写入一条审计日志；失败只记录告警，不影响主流程。
func (s *LogService) Write(ctx context.Context, level, event string, userID *uint64, desc, ip, requestID string) {
	err := s.db.WithContext(ctx).Create(&storage.AuditLog{
		Timestamp:   time.Now().UTC(),
		Level:       level,
		Event:       event,
		UserID:      userID,
		Description: desc,
		IPAddress:   ip,
		RequestID:   requestID,
	}).Error
	if err != nil {
		log.WithError(err).WithField("event", event).Warn("audit log write failed")
	}
}

// MaxActivityEntries 为单次查询返回的审计记录上限。
const MaxActivityEntries = 100

// ActivityEntry 为返回给用户本人的审计记录视图。
type ActivityEntry struct {
	Event       string    `json:"event"`
	Level       string    `json:"level"`
	Description string    `json:"description"`
	IPAddress   string    `json:"ip_address"`
	Timestamp   time.Time `json:"timestamp"`
}

// Recent 返回 userID 最近的审计记录（新的在前）；limit 非正时取 50，最多 MaxActivityEntries。
func (s *LogService) Recent(ctx context.Context, userID uint64, limit int) ([]ActivityEntry, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > MaxActivityEntries:
		limit = MaxActivityEntries
	}
	var rows []storage.AuditLog
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	out := make([]ActivityEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ActivityEntry{
			Event: r.Event, Level: r.Level, Description: r.Description,
			IPAddress: r.IPAddress, Timestamp: r.Timestamp,
		})
	}
	return out, nil
}
