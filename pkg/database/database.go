package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"AssetRadar/pkg/apperr"
	"AssetRadar/pkg/config"
	"AssetRadar/pkg/model"
)

// DB 数据库连接，按实体提供访问器
type DB struct {
	db         *gorm.DB
	log        *zap.Logger
	maxRetries uint64
}

// Open 根据配置连接 postgres 或 sqlite
func Open(cfg *config.Config, log *zap.Logger) (*DB, error) {
	dbCfg := cfg.Database

	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(dbCfg.Path)
	default:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dbCfg.Host, dbCfg.Port, dbCfg.User, dbCfg.Password, dbCfg.DBName, dbCfg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}

	// 设置连接池参数
	if dbCfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(dbCfg.ConnMaxLife)
	}

	d := New(gdb, log, dbCfg.MaxRetries)
	if err := d.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("测试数据库连接失败: %w", err)
	}
	return d, nil
}

// New 包装已有的 gorm 连接
func New(gdb *gorm.DB, log *zap.Logger, maxRetries uint64) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{db: gdb, log: log, maxRetries: maxRetries}
}

// Migrate 自动建表
func (d *DB) Migrate() error {
	if err := d.db.AutoMigrate(
		&model.Asset{},
		&model.Metric{},
		&model.Alert{},
		&model.HealthRecord{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	// 同一 (asset_id, condition) 最多一条未解决告警，多进程写入时由数据库保证
	if err := d.db.Exec(unresolvedAlertIndex).Error; err != nil {
		return fmt.Errorf("创建告警唯一索引失败: %w", err)
	}
	return nil
}

// postgres 与 sqlite 均支持部分索引
const unresolvedAlertIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_unresolved_condition
ON alerts (asset_id, condition_kind) WHERE status <> 'resolved'`

// Ping 检查连接
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// retry 在存储边界做有限次指数退避重试，最终失败包装为 StorageError
func (d *DB) retry(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 5 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.maxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		err := fn(d.db.WithContext(ctx))
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		d.log.Warn("存储操作失败，准备重试",
			zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	})

	switch {
	case err == nil:
		return nil
	case duplicateKey(err):
		return fmt.Errorf("%s: %w: %w", op, apperr.ErrDuplicate, err)
	case errors.Is(err, gorm.ErrRecordNotFound),
		apperr.IsNotFound(err),
		apperr.IsValidation(err),
		errors.Is(err, apperr.ErrInvalidTransition):
		return err
	}
	return &apperr.StorageError{Op: op, Err: err}
}

// duplicateKey 驱动开启 TranslateError 后返回 gorm.ErrDuplicatedKey，
// 未翻译的驱动错误按消息识别
func duplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, apperr.ErrDuplicate) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func permanent(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) ||
		duplicateKey(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, apperr.ErrInvalidTransition) ||
		apperr.IsNotFound(err) ||
		apperr.IsValidation(err)
}
