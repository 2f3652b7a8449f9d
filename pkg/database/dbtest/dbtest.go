// Package dbtest 为测试提供内存 sqlite 数据库
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"AssetRadar/pkg/database"
)

// New 创建独立的内存数据库并完成迁移，测试结束后关闭
func New(t testing.TB) *database.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := gdb.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)

	db := database.New(gdb, nil, 2)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(), "failed to migrate tables")
	return db
}
