package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clonetwitter/internal/config"
)

// InitDatabase 按配置的驱动打开 GORM 连接，并通过 AutoMigrate 确保表结构存在。
func InitDatabase(cfg config.Config) (*gorm.DB, error) {
	return Open(cfg.Database)
}

// Open 打开指定方言的数据库并执行迁移；driver 取值 mysql（默认）、postgres、sqlite。
func Open(dc config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(dc)
	if err != nil {
		return nil, err
	}
	// TranslateError 让唯一约束冲突统一表现为 gorm.ErrDuplicatedKey
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn), TranslateError: true}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName(dc), err)
	}
	// 验证底层连接可用
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql db: %w", err)
	}
	if dc.Driver == "sqlite" {
		// 内存库每个连接都是独立的数据库，必须限制为单连接
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driverName(dc), err)
	}

	// 自动迁移数据库结构
	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func dialectorFor(dc config.DatabaseConfig) (gorm.Dialector, error) {
	switch driverName(dc) {
	case "mysql":
		return mysql.Open(dc.DSN()), nil
	case "postgres":
		return postgres.Open(dc.DSN()), nil
	case "sqlite":
		dsn := dc.DSN()
		if !strings.Contains(dsn, "_pragma=foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=foreign_keys(1)"
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dc.Driver)
	}
}

func driverName(dc config.DatabaseConfig) string {
	if dc.Driver == "" {
		return "mysql"
	}
	return dc.Driver
}

// CloseDatabase 关闭底层 sql.DB 连接。
func CloseDatabase(db *gorm.DB) {
	if db == nil {
		return
	}
	var s *sql.DB
	var err error
	s, err = db.DB()
	if err == nil && s != nil {
		_ = s.Close()
	}
}
