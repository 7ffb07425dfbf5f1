package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"clonetwitter/internal/config"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer CloseDatabase(db)

	for _, model := range []interface{}{&User{}, &Follow{}, &Post{}, &AuditLog{}} {
		require.True(t, db.Migrator().HasTable(model))
	}

	u := &User{Username: "alice", UsernameLower: "alice", Email: "alice@example.com", Password: "x", IsActive: true}
	require.NoError(t, db.Create(u).Error)
	require.NotZero(t, u.ID)

	// 同一条关注边只能存在一行
	require.NoError(t, db.Create(&Follow{FollowerID: u.ID, FolloweeID: 99}).Error)
	require.ErrorIs(t, db.Create(&Follow{FollowerID: u.ID, FolloweeID: 99}).Error, gorm.ErrDuplicatedKey)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}

func TestTables(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	defer CloseDatabase(db)
	require.Equal(t, []string{"users", "follows", "posts", "audit_logs"}, Tables(db))
}
