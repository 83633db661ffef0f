package service

import (
	"coder_edu_progress/internal/model"
	"context"
	"errors"
)

var errOffline = errors.New("backend offline")

// Backend 后端数据接口，进度代理中的所有组件只依赖它
type Backend interface {
	// FindProgress 未找到时返回 nil, nil
	FindProgress(ctx context.Context, userID, lessonID uint) (*model.ProgressRecord, error)
	// UpsertProgress 按 (user, lesson) 查找并更新，不存在则插入
	UpsertProgress(ctx context.Context, upd model.ProgressUpdate) (*model.ProgressRecord, error)
	ListProgress(ctx context.Context, userID, courseID uint) ([]model.ProgressRecord, error)
	ListLessons(ctx context.Context, courseID uint) ([]uint, error)
	// IssueCertificate 对同一用户同一课程幂等
	IssueCertificate(ctx context.Context, userID, courseID uint) (*model.Certificate, error)
	// GetCertificate 未颁发时返回 nil, nil
	GetCertificate(ctx context.Context, userID, courseID uint) (*model.Certificate, error)
	LogActivity(ctx context.Context, entry model.ActivityLog) error
	Ping(ctx context.Context) error
}

// ConnectivityState 当前是否在线
type ConnectivityState interface {
	Online() bool
}
