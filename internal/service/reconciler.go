package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/util"
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"coder_edu_progress/pkg/tracing"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SyncResult Skipped 表示已有同步在进行中，Rejected 为被后端拒绝后丢弃的条目数
type SyncResult struct {
	Replayed  int                           `json:"replayed"`
	Failed    int                           `json:"failed"`
	Rejected  int                           `json:"rejected"`
	Remaining int                           `json:"remaining"`
	Skipped   bool                          `json:"skipped"`
	Courses   []model.CourseProgressSummary `json:"courses,omitempty"`
}

// SyncReconciler 恢复在线后按入队顺序回放离线队列，并以后端数据重新计算受影响的课程。
// 不做自动重试，失败条目留到下一次上线或手动触发；被后端拒绝的条目直接丢弃。
type SyncReconciler struct {
	tracker *ProgressTracker
	ctx     context.Context

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewSyncReconciler ctx 为后台同步的生命周期
func NewSyncReconciler(ctx context.Context, tracker *ProgressTracker) *SyncReconciler {
	return &SyncReconciler{tracker: tracker, ctx: ctx}
}

// OnConnectivityChange 作为连接监视器的订阅回调，每次切换到在线时最多触发一次同步
func (r *SyncReconciler) OnConnectivityChange(online bool) {
	if !online {
		r.tracker.status.Notify(nil)
		return
	}

	ident, ok := r.tracker.identity.Current()
	if !ok || len(r.tracker.queue.Pending(ident.UserID, 0)) == 0 {
		r.tracker.status.Notify(nil)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Reconcile(r.ctx); err != nil {
			logger.Log.Warn("Background sync failed", zap.Error(err))
		}
	}()
}

// Reconcile 回放当前用户的离线条目。并发调用时只有一次真正执行，其余返回 Skipped。
func (r *SyncReconciler) Reconcile(ctx context.Context) (*SyncResult, error) {
	t := r.tracker

	ident, ok := t.identity.Current()
	if !ok {
		return nil, util.ErrUnauthenticated
	}

	if !r.running.CompareAndSwap(false, true) {
		return &SyncResult{Skipped: true, Remaining: t.queue.Len()}, nil
	}
	defer r.running.Store(false)

	ctx, span := tracing.Start(ctx, "progress.reconcile", attribute.Int64("user.id", int64(ident.UserID)))
	t.status.setSyncing(true)

	t.mu.Lock()
	result := r.replay(ctx, ident.UserID)
	t.mu.Unlock()

	var syncErr error
	if result.Failed > 0 {
		syncErr = fmt.Errorf("%d progress updates failed to sync", result.Failed)
	}
	span.SetAttributes(
		attribute.Int("sync.replayed", result.Replayed),
		attribute.Int("sync.failed", result.Failed),
	)
	tracing.End(span, syncErr)

	logger.Log.Info("Offline progress reconciled",
		zap.Uint("userId", ident.UserID),
		zap.Int("replayed", result.Replayed),
		zap.Int("failed", result.Failed),
		zap.Int("remaining", result.Remaining),
	)

	t.status.recordSync(t.now().UTC(), syncErr)
	for i := range result.Courses {
		t.status.Notify(&result.Courses[i])
	}
	return result, nil
}

// replay 调用方需持有 tracker.mu
func (r *SyncReconciler) replay(ctx context.Context, userID uint) *SyncResult {
	t := r.tracker
	entries := t.queue.Pending(userID, 0)
	result := &SyncResult{}

	var (
		acked   []string
		failed  []string
		courses []uint
		seen    = make(map[uint]bool)
	)
	for _, entry := range entries {
		courseID := entry.Update.CourseID
		if !seen[courseID] {
			seen[courseID] = true
			courses = append(courses, courseID)
		}

		_, err := t.backend.UpsertProgress(ctx, entry.Update)
		if errors.Is(err, util.ErrRejected) {
			result.Rejected++
			acked = append(acked, entry.Update.EventID)
			monitoring.SyncReplays.WithLabelValues("rejected").Inc()
			logger.Log.Warn("Buffered progress rejected by backend, dropping",
				zap.String("eventId", entry.Update.EventID),
				zap.Uint("lessonId", entry.Update.LessonID),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			result.Failed++
			failed = append(failed, entry.Update.EventID)
			monitoring.SyncReplays.WithLabelValues("failed").Inc()
			logger.Log.Warn("Replay of buffered progress failed",
				zap.String("eventId", entry.Update.EventID),
				zap.Uint("lessonId", entry.Update.LessonID),
				zap.Error(err),
			)
			continue
		}
		result.Replayed++
		acked = append(acked, entry.Update.EventID)
		monitoring.SyncReplays.WithLabelValues("replayed").Inc()
	}

	var err error
	if result.Failed == 0 && len(entries) == t.queue.Len() {
		err = t.queue.Clear(ctx)
	} else {
		_, err = t.queue.Ack(ctx, acked...)
	}
	if markErr := t.queue.MarkSent(ctx, failed...); err == nil {
		err = markErr
	}
	if err != nil {
		logger.Log.Warn("Offline queue write failed after sync", zap.Error(err))
	}
	result.Remaining = t.queue.Len()

	for _, courseID := range courses {
		summary, err := t.aggregator.Recompute(ctx, userID, courseID, t.queue.Pending(userID, courseID))
		if err != nil {
			logger.Log.Warn("Course recompute failed", zap.Uint("courseId", courseID), zap.Error(err))
			continue
		}
		result.Courses = append(result.Courses, t.aggregator.CheckCompletion(ctx, userID, summary))
	}
	return result
}

// Wait 等待后台同步结束
func (r *SyncReconciler) Wait() {
	r.wg.Wait()
}
