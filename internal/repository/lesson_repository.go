package repository

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/util"
	"coder_edu_progress/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// emptyCatalogTTL 空目录的短缓存，防止缓存穿透
const emptyCatalogTTL = time.Minute

type LessonRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	TTL   time.Duration
}

func NewLessonRepository(db *gorm.DB, rdb *redis.Client, ttl time.Duration) *LessonRepository {
	return &LessonRepository{DB: db, Redis: rdb, TTL: ttl}
}

func catalogKey(courseID uint) string {
	return fmt.Sprintf("progress:catalog:course:%d", courseID)
}

func (r *LessonRepository) FindByID(ctx context.Context, lessonID uint) (*model.Lesson, error) {
	var lesson model.Lesson
	err := r.DB.WithContext(ctx).First(&lesson, lessonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrLessonNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (r *LessonRepository) listIDs(ctx context.Context, courseID uint) ([]uint, error) {
	ids := []uint{}
	err := r.DB.WithContext(ctx).Model(&model.Lesson{}).
		Where("course_id = ?", courseID).
		Order("module_id ASC, `order` ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ListIDsByCourse 课程的课时 ID 目录 (带缓存)
func (r *LessonRepository) ListIDsByCourse(ctx context.Context, courseID uint) ([]uint, error) {
	if r.Redis == nil {
		return r.listIDs(ctx, courseID)
	}

	key := catalogKey(courseID)
	cached, err := r.Redis.Get(ctx, key).Bytes()
	if err == nil {
		var ids []uint
		if err := json.Unmarshal(cached, &ids); err == nil {
			return ids, nil
		}
	} else if err != redis.Nil {
		logger.Log.Warn("Lesson catalog cache read failed", zap.Uint("courseId", courseID), zap.Error(err))
	}

	// 缓存失效，回源数据库
	ids, err := r.listIDs(ctx, courseID)
	if err != nil {
		return nil, err
	}

	ttl := r.TTL
	if len(ids) == 0 {
		ttl = emptyCatalogTTL
	}
	payload, _ := json.Marshal(ids)
	if err := r.Redis.Set(ctx, key, payload, ttl).Err(); err != nil {
		logger.Log.Warn("Lesson catalog cache write failed", zap.Uint("courseId", courseID), zap.Error(err))
	}
	return ids, nil
}

// InvalidateCatalog 课时增删后清除目录缓存
func (r *LessonRepository) InvalidateCatalog(ctx context.Context, courseID uint) error {
	if r.Redis == nil {
		return nil
	}
	return r.Redis.Del(ctx, catalogKey(courseID)).Err()
}
