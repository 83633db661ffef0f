package database

import (
	"coder_edu_progress/internal/config"
	"coder_edu_progress/internal/model"
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	logLevel := logger.Warn
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		// 唯一索引冲突转换为 gorm.ErrDuplicatedKey，upsert 依赖它做冲突重试
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")
	return db, nil
}

// Migrate 自动迁移进度相关的表
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Course{},
		&model.CourseModule{},
		&model.Lesson{},
		&model.ProgressRecord{},
		&model.Certificate{},
		&model.ActivityLog{},
	)
	if err != nil {
		return err
	}

	log.Println("Database migration completed")
	return nil
}
