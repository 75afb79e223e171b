package persistence

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus-storage/internal/pkg/bootstrap"
	"nexus-storage/internal/pkg/logger"
)

// OpenMySQL 根据配置建立 GORM 连接，并按需执行 AutoMigrate。
func OpenMySQL(cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	dsnCfg := mysqldriver.NewConfig()
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC
	dsnCfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := gorm.Open(mysql.New(mysql.Config{DSN: dsnCfg.FormatDSN()}), &gorm.Config{
		Logger: NewGormLogger(),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	logger.L().Info().Str("addr", dsnCfg.Addr).Str("database", cfg.Database).Msg("✅ Connected to MySQL")
	return db, nil
}

// Migrate 创建或更新 catalog_item_stock 与 reservation 表。
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&StockModel{}, &ReservationModel{}), "auto migrate")
}

// NewGormLogger 把 GORM 的慢查询和错误日志转到 zerolog。
func NewGormLogger() gormlogger.Interface {
	return gormlogger.New(logger.L(), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
