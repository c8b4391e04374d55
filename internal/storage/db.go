// Package storage 打开 sqlite 数据库并配置 GORM。
package storage

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"goldlens/internal/config"
	"goldlens/internal/logger"
)

// Open 打开数据库并迁移给定模型
func Open(cfg config.SqliteConfig, l logger.Logger, models ...any) (*gorm.DB, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if dir := filepath.Dir(cfg.Dsn); cfg.Dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: cfg.Prefix},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", cfg.Dsn)
	}
	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
	}
	l.Debug("数据库已打开", "dsn", cfg.Dsn, "prefix", cfg.Prefix)
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
