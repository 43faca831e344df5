package orm

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Type        string `mapstructure:"type"`         // mysql | postgres | sqlite
	DSN         string `mapstructure:"dsn"`          // 连接字符串
	MaxIdle     int    `mapstructure:"max_idle"`     // 最大空闲连接
	MaxOpen     int    `mapstructure:"max_open"`     // 最大打开连接
	MaxLifetime int    `mapstructure:"max_lifetime"` // 连接存活秒数
	LogLevel    string `mapstructure:"log_level"`    // silent | error | warn | info
}

// Open 按 Type 选驱动初始化 GORM
func Open(c *Config) (*gorm.DB, error) {
	dialector, err := dialectorOf(c)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevelOf(c.LogLevel)),
		// 唯一索引冲突翻译成 gorm.ErrDuplicatedKey，业务层不用关心具体驱动
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 连接池
	if c.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpen)
	}
	if c.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}
	return db, nil
}

func dialectorOf(c *Config) (gorm.Dialector, error) {
	switch strings.ToLower(c.Type) {
	case "", "mysql":
		return mysql.Open(c.DSN), nil
	case "postgres", "postgresql":
		return postgres.Open(c.DSN), nil
	case "sqlite":
		return sqlite.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported db type %q", c.Type)
	}
}

func logLevelOf(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
