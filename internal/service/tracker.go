package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/offline"
	"coder_edu_progress/internal/util"
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"coder_edu_progress/pkg/tracing"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const activityLogTimeout = 5 * time.Second

// TrackRequest 一次课时浏览或完成事件，TimeSpentSeconds 为本次新增时长
type TrackRequest struct {
	CourseID         uint `json:"courseId" binding:"required"`
	ModuleID         uint `json:"moduleId" binding:"required"`
	LessonID         uint `json:"lessonId" binding:"required"`
	Completed        bool `json:"completed"`
	ProgressPercent  int  `json:"progressPercent"`
	TimeSpentSeconds int  `json:"timeSpentSeconds"`
}

type TrackOutcome string

const (
	OutcomeSynced   TrackOutcome = "synced"
	OutcomeBuffered TrackOutcome = "buffered"
)

// TrackResult Cause 为进入缓冲的原因，只用于日志
type TrackResult struct {
	Outcome TrackOutcome                `json:"outcome"`
	Record  model.ProgressRecord        `json:"record"`
	Summary model.CourseProgressSummary `json:"summary"`
	Cause   error                       `json:"-"`
}

// ProgressTracker 记录课时进度：在线直接写入后端，离线或写入失败时进入本地队列
type ProgressTracker struct {
	backend    Backend
	queue      *offline.Queue
	conn       ConnectivityState
	identity   IdentityProvider
	aggregator *CourseProgressAggregator
	status     *StatusBoard

	now   func() time.Time
	newID func() string

	// mu 保证同一时间只有一次写入，同一课时的事件按调用顺序生效
	mu       sync.Mutex
	activity sync.WaitGroup
}

func NewProgressTracker(
	backend Backend,
	queue *offline.Queue,
	conn ConnectivityState,
	identity IdentityProvider,
	aggregator *CourseProgressAggregator,
	status *StatusBoard,
) *ProgressTracker {
	return &ProgressTracker{
		backend:    backend,
		queue:      queue,
		conn:       conn,
		identity:   identity,
		aggregator: aggregator,
		status:     status,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// TrackProgress 只在未登录、参数非法或后端明确拒绝时返回错误，其余远端失败降级为缓冲写入
func (t *ProgressTracker) TrackProgress(ctx context.Context, req TrackRequest) (*TrackResult, error) {
	ident, ok := t.identity.Current()
	if !ok {
		return nil, util.ErrUnauthenticated
	}

	upd := model.ProgressUpdate{
		EventID:         t.newID(),
		UserID:          ident.UserID,
		CourseID:        req.CourseID,
		ModuleID:        req.ModuleID,
		LessonID:        req.LessonID,
		Completed:       req.Completed,
		ProgressPercent: req.ProgressPercent,
		TimeSpentDelta:  req.TimeSpentSeconds,
		OccurredAt:      t.now().UTC(),
	}
	if err := util.ValidateProgress(upd); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "progress.track",
		attribute.Int64("course.id", int64(upd.CourseID)),
		attribute.Int64("lesson.id", int64(upd.LessonID)),
	)

	t.mu.Lock()
	result, err := t.track(ctx, upd)
	t.mu.Unlock()

	if err != nil {
		tracing.End(span, err)
		monitoring.ProgressEvents.WithLabelValues("rejected").Inc()
		logger.Log.Warn("Progress update rejected by backend",
			zap.Uint("userId", upd.UserID),
			zap.Uint("lessonId", upd.LessonID),
			zap.String("eventId", upd.EventID),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("progress.outcome", string(result.Outcome)))
	tracing.End(span, nil)
	monitoring.ProgressEvents.WithLabelValues(string(result.Outcome)).Inc()
	if result.Cause != nil {
		logger.Log.Info("Progress buffered for later sync",
			zap.Uint("userId", upd.UserID),
			zap.Uint("lessonId", upd.LessonID),
			zap.String("eventId", upd.EventID),
			zap.Error(result.Cause),
		)
	}

	t.logActivity(upd, result.Outcome == OutcomeBuffered)
	summary := result.Summary
	t.status.Notify(&summary)
	return result, nil
}

// track 调用方需持有 t.mu
func (t *ProgressTracker) track(ctx context.Context, upd model.ProgressUpdate) (*TrackResult, error) {
	t.aggregator.EnsureCatalog(ctx, upd.UserID, upd.CourseID)

	var cause error
	entry := model.OfflineQueueEntry{Update: upd}
	if t.conn.Online() {
		rec, err := t.backend.UpsertProgress(ctx, upd)
		if err == nil {
			summary := t.aggregator.ApplyRemote(*rec)
			record := *rec
			// 同一课时仍有未同步的缓冲事件时保持乐观叠加
			for _, pending := range t.queue.Pending(upd.UserID, upd.CourseID) {
				if pending.Update.LessonID == upd.LessonID {
					record, summary = t.aggregator.ApplyProvisional(pending.Update)
				}
			}
			summary = t.aggregator.CheckCompletion(ctx, upd.UserID, summary)
			return &TrackResult{Outcome: OutcomeSynced, Record: record, Summary: summary}, nil
		}
		if errors.Is(err, util.ErrRejected) {
			return nil, err
		}
		// 请求可能已被后端应用，只是响应丢失
		cause = err
		entry.Sent = true
	} else {
		cause = errOffline
	}

	entry.QueuedAt = t.now().UTC()
	if err := t.queue.Enqueue(ctx, entry); err != nil {
		// 持久化失败不影响本次会话内的缓冲
		logger.Log.Warn("Offline queue write failed", zap.Error(err))
	}

	record, summary := t.aggregator.ApplyProvisional(upd)
	return &TrackResult{Outcome: OutcomeBuffered, Record: record, Summary: summary, Cause: cause}, nil
}

// logActivity 异步追加活动日志，失败只记录日志
func (t *ProgressTracker) logActivity(upd model.ProgressUpdate, buffered bool) {
	entry := model.ActivityLog{
		UserID:    upd.UserID,
		CourseID:  upd.CourseID,
		LessonID:  upd.LessonID,
		EventID:   upd.EventID,
		Activity:  model.ActivityLessonProgress,
		Duration:  upd.TimeSpentDelta,
		Buffered:  buffered,
		CreatedAt: upd.OccurredAt,
	}
	if upd.Completed {
		entry.Activity = model.ActivityLessonCompleted
	}

	t.activity.Add(1)
	go func() {
		defer t.activity.Done()

		ctx, cancel := context.WithTimeout(context.Background(), activityLogTimeout)
		defer cancel()

		if err := t.backend.LogActivity(ctx, entry); err != nil {
			logger.Log.Debug("Activity log dropped", zap.String("eventId", entry.EventID), zap.Error(err))
		}
	}()
}

// Wait 等待所有活动日志发送完成
func (t *ProgressTracker) Wait() {
	t.activity.Wait()
}
