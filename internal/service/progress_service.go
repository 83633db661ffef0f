package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/repository"
	"coder_edu_progress/internal/util"
	"context"
)

// ProgressService 后端的课时进度读写
type ProgressService struct {
	ProgressRepo *repository.ProgressRepository
	LessonRepo   *repository.LessonRepository
}

func NewProgressService(progressRepo *repository.ProgressRepository, lessonRepo *repository.LessonRepository) *ProgressService {
	return &ProgressService{ProgressRepo: progressRepo, LessonRepo: lessonRepo}
}

func (s *ProgressService) Find(ctx context.Context, userID, lessonID uint) (*model.ProgressRecord, error) {
	return s.ProgressRepo.FindByUserLesson(ctx, userID, lessonID)
}

func (s *ProgressService) ListByCourse(ctx context.Context, userID, courseID uint) ([]model.ProgressRecord, error) {
	return s.ProgressRepo.ListByUserCourse(ctx, userID, courseID)
}

// Upsert 课时必须属于事件中的课程和章节
func (s *ProgressService) Upsert(ctx context.Context, upd model.ProgressUpdate) (*model.ProgressRecord, error) {
	if err := util.ValidateProgress(upd); err != nil {
		return nil, err
	}

	lesson, err := s.LessonRepo.FindByID(ctx, upd.LessonID)
	if err != nil {
		return nil, err
	}
	if lesson.CourseID != upd.CourseID || lesson.ModuleID != upd.ModuleID {
		return nil, util.ErrLessonCourseMismatch
	}

	return s.ProgressRepo.Upsert(ctx, upd)
}

func (s *ProgressService) ListLessons(ctx context.Context, courseID uint) ([]uint, error) {
	return s.LessonRepo.ListIDsByCourse(ctx, courseID)
}

func (s *ProgressService) InvalidateCatalog(ctx context.Context, courseID uint) error {
	return s.LessonRepo.InvalidateCatalog(ctx, courseID)
}
