package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/repository"
	"coder_edu_progress/internal/util"
	"context"
	"time"
)

const maxActivityPage = 100

type ActivityService struct {
	Repo *repository.ActivityRepository
}

func NewActivityService(repo *repository.ActivityRepository) *ActivityService {
	return &ActivityService{Repo: repo}
}

// Append 追加一条活动日志，用户 ID 以 token 为准
func (s *ActivityService) Append(ctx context.Context, userID uint, entry model.ActivityLog) (*model.ActivityLog, error) {
	switch entry.Activity {
	case model.ActivityLessonProgress, model.ActivityLessonCompleted:
	default:
		return nil, util.ErrInvalidProgress
	}

	entry.ID = 0
	entry.UserID = userID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.Repo.Create(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *ActivityService) Recent(ctx context.Context, userID uint, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 || limit > maxActivityPage {
		limit = maxActivityPage
	}
	return s.Repo.ListByUser(ctx, userID, limit)
}
