package repository

import (
	"coder_edu_progress/internal/model"
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertAttempts 并发首次写入同一课时时，唯一索引冲突后重试一次即可读到已插入的行
const upsertAttempts = 2

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

// FindByUserLesson 未找到时返回 nil, nil
func (r *ProgressRepository) FindByUserLesson(ctx context.Context, userID, lessonID uint) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ?", userID, lessonID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ProgressRepository) ListByUserCourse(ctx context.Context, userID, courseID uint) ([]model.ProgressRecord, error) {
	var records []model.ProgressRecord
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// Upsert 按 (user_id, lesson_id) 查找并合并事件，不存在则插入。
// 更新中的事件都已应用过时视为重放，直接返回当前记录；部分已应用时只累加未应用事件的时长。
func (r *ProgressRepository) Upsert(ctx context.Context, upd model.ProgressUpdate) (*model.ProgressRecord, error) {
	var err error
	for i := 0; i < upsertAttempts; i++ {
		var rec *model.ProgressRecord
		rec, err = r.upsertOnce(ctx, upd)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}
	return nil, err
}

func (r *ProgressRepository) upsertOnce(ctx context.Context, upd model.ProgressUpdate) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND lesson_id = ?", upd.UserID, upd.LessonID).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = model.NewProgressRecord(upd)
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}

		if rec.Covers(upd) {
			return nil
		}
		rec.Apply(upd)
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
