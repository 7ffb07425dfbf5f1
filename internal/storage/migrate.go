package storage

import (
	"time"

	"gorm.io/gorm"
)

// 本文件定义平台使用的所有 GORM 模型，集中管理数据结构。

// User 为账户实体。Username 保留原始大小写；UsernameLower 由 services 以 Unicode 规则折叠后写入，
// 其唯一索引保证不区分大小写的唯一性（SQLite 的 LOWER() 只折叠 ASCII，不能依赖）。
// Email 写入前已统一转为小写。
type User struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Username      string `gorm:"size:150"`
	UsernameLower string `gorm:"size:150;uniqueIndex;not null"`
	Email         string `gorm:"size:190;uniqueIndex"`
	Password      string `gorm:"size:255"` // 已哈希的口令
	FirstName     string `gorm:"size:150"`
	LastName      string `gorm:"size:150"`
	IsActive      bool   `gorm:"index;default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Follow 表示有向关注边：FollowerID 关注 FolloweeID。
// 即 "FolloweeID 的 followers 中包含 FollowerID"；复合主键保证同一条边至多一行。
type Follow struct {
	FollowerID uint64 `gorm:"primaryKey;autoIncrement:false"`
	FolloweeID uint64 `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt  time.Time
}

// Post 为用户发布的内容；Text 与 Image 至少有一个非空。
type Post struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Text      *string   `gorm:"type:text"`
	Image     *string   `gorm:"size:255"` // 相对 media 根目录的路径
	CreatedAt time.Time `gorm:"index"`
	PosterID  uint64    `gorm:"index;not null"`
	Poster    User      `gorm:"foreignKey:PosterID;constraint:OnDelete:CASCADE"`
}

// AuditLog 记录关键业务事件（注册、登录、关注、发帖等），便于审计。
type AuditLog struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"index"`
	Level       string    `gorm:"size:16;index"`
	Event       string    `gorm:"size:64;index"`
	UserID      *uint64   `gorm:"index"`
	Description string    `gorm:"type:text"`
	IPAddress   string    `gorm:"size:64"`
	RequestID   string    `gorm:"size:64;index"`
}

// autoMigrate 执行数据库自动迁移。
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Follow{}, &Post{}, &AuditLog{})
}

// Tables 返回已存在的模型表名，供迁移命令输出。
func Tables(db *gorm.DB) []string {
	out := []string{}
	for _, model := range []interface{}{&User{}, &Follow{}, &Post{}, &AuditLog{}} {
		if !db.Migrator().HasTable(model) {
			continue
		}
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err == nil {
			out = append(out, stmt.Schema.Table)
		}
	}
	return out
}
