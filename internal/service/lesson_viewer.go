package service

import (
	"coder_edu_progress/pkg/logger"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type LessonRef struct {
	CourseID uint `json:"courseId" binding:"required"`
	ModuleID uint `json:"moduleId" binding:"required"`
	LessonID uint `json:"lessonId" binding:"required"`
}

func (r LessonRef) request() TrackRequest {
	return TrackRequest{CourseID: r.CourseID, ModuleID: r.ModuleID, LessonID: r.LessonID}
}

type viewSession struct {
	ref    LessonRef
	cancel context.CancelFunc
	done   chan struct{}
}

// LessonViewer 课时打开期间按固定间隔上报学习时长。
// 每个打开的课时对应一个可取消的定时任务，切换课时或关闭时结束，不会遗留计时器。
type LessonViewer struct {
	tracker *ProgressTracker

	mu       sync.Mutex
	interval time.Duration
	current  *viewSession
	resets   chan time.Duration
}

func NewLessonViewer(tracker *ProgressTracker, interval time.Duration) *LessonViewer {
	return &LessonViewer{
		tracker:  tracker,
		interval: interval,
		resets:   make(chan time.Duration, 1),
	}
}

// Open 结束上一个课时的计时，记录一次访问并开始新的计时
func (v *LessonViewer) Open(ctx context.Context, ref LessonRef) (*TrackResult, error) {
	v.Close()

	result, err := v.tracker.TrackProgress(ctx, ref.request())
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// 并发 Open 时以最后一次为准
	if v.current != nil {
		v.stopLocked()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	session := &viewSession{ref: ref, cancel: cancel, done: make(chan struct{})}
	v.current = session

	// 清掉上一次会话遗留的间隔变更
	select {
	case <-v.resets:
	default:
	}

	go v.run(runCtx, session, v.interval)

	logger.Log.Debug("Lesson view started", zap.Uint("lessonId", ref.LessonID), zap.Duration("interval", v.interval))
	return result, nil
}

// run 按实际经过的整秒数上报，不足一秒的部分留到下一次
func (v *LessonViewer) run(ctx context.Context, session *viewSession, interval time.Duration) {
	defer close(session.done)

	last := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	elapsed := func() int {
		seconds := int(time.Since(last) / time.Second)
		last = last.Add(time.Duration(seconds) * time.Second)
		return seconds
	}

	for {
		select {
		case <-ctx.Done():
			if seconds := elapsed(); seconds > 0 {
				v.tick(session.ref, seconds)
			}
			return
		case d := <-v.resets:
			// 先结算旧间隔内已经过的时长
			if seconds := elapsed(); seconds > 0 {
				v.tick(session.ref, seconds)
			}
			ticker.Reset(d)
		case <-ticker.C:
			v.tick(session.ref, elapsed())
		}
	}
}

// tick 已发出的请求不随课时关闭而中止
func (v *LessonViewer) tick(ref LessonRef, seconds int) {
	req := ref.request()
	req.TimeSpentSeconds = seconds

	if _, err := v.tracker.TrackProgress(context.Background(), req); err != nil {
		logger.Log.Debug("Lesson view tick dropped", zap.Uint("lessonId", ref.LessonID), zap.Error(err))
	}
}

// Close 取消当前课时的计时并等待定时任务退出
func (v *LessonViewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
}

func (v *LessonViewer) stopLocked() {
	if v.current == nil {
		return
	}
	v.current.cancel()
	<-v.current.done
	logger.Log.Debug("Lesson view stopped", zap.Uint("lessonId", v.current.ref.LessonID))
	v.current = nil
}

func (v *LessonViewer) Current() (LessonRef, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return LessonRef{}, false
	}
	return v.current.ref, true
}

// SetInterval 修改上报间隔，对正在计时的课时立即生效
func (v *LessonViewer) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.interval == d {
		return
	}
	v.interval = d
	if v.current == nil {
		return
	}

	select {
	case <-v.resets:
	default:
	}
	v.resets <- d
}

// Complete 标记课时完成
func (v *LessonViewer) Complete(ctx context.Context, ref LessonRef) (*TrackResult, error) {
	req := ref.request()
	req.Completed = true
	req.ProgressPercent = 100
	return v.tracker.TrackProgress(ctx, req)
}
