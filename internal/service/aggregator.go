package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"context"
	"sync"

	"go.uber.org/zap"
)

type courseKey struct {
	userID   uint
	courseID uint
}

type courseState struct {
	records       map[uint]model.ProgressRecord
	order         []uint
	catalog       []uint
	catalogLoaded bool
}

func newCourseState() *courseState {
	return &courseState{records: make(map[uint]model.ProgressRecord)}
}

func (st *courseState) put(rec model.ProgressRecord) {
	if _, ok := st.records[rec.LessonID]; !ok {
		st.order = append(st.order, rec.LessonID)
	}
	st.records[rec.LessonID] = rec
}

func (st *courseState) list() []model.ProgressRecord {
	out := make([]model.ProgressRecord, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.records[id])
	}
	return out
}

// applyProvisional 在已知记录上乐观地应用事件
func (st *courseState) applyProvisional(upd model.ProgressUpdate) model.ProgressRecord {
	rec, ok := st.records[upd.LessonID]
	if ok {
		rec.Apply(upd)
	} else {
		rec = model.NewProgressRecord(upd)
	}
	rec.Provisional = true
	st.put(rec)
	return rec
}

// CourseProgressAggregator 维护 (用户, 课程) 维度的课时记录并推导课程进度。
// 远端确认的记录总是覆盖本地乐观记录。
type CourseProgressAggregator struct {
	backend Backend

	mu        sync.Mutex
	courses   map[courseKey]*courseState
	certified map[courseKey]bool
	issuing   map[courseKey]bool
}

func NewCourseProgressAggregator(backend Backend) *CourseProgressAggregator {
	return &CourseProgressAggregator{
		backend:   backend,
		courses:   make(map[courseKey]*courseState),
		certified: make(map[courseKey]bool),
		issuing:   make(map[courseKey]bool),
	}
}

// state 调用方需持有锁
func (a *CourseProgressAggregator) state(key courseKey) *courseState {
	st, ok := a.courses[key]
	if !ok {
		st = newCourseState()
		a.courses[key] = st
	}
	return st
}

func (a *CourseProgressAggregator) summarize(key courseKey, st *courseState) model.CourseProgressSummary {
	s := model.Summarize(key.courseID, st.list(), st.catalog)
	s.CertificateIssued = a.certified[key]
	return s
}

// EnsureCatalog 首次访问课程时加载课时目录，失败时以已见记录数作为总课时
func (a *CourseProgressAggregator) EnsureCatalog(ctx context.Context, userID, courseID uint) {
	key := courseKey{userID, courseID}

	a.mu.Lock()
	loaded := a.state(key).catalogLoaded
	a.mu.Unlock()
	if loaded {
		return
	}

	lessons, err := a.backend.ListLessons(ctx, courseID)
	if err != nil {
		logger.Log.Debug("Lesson catalog unavailable", zap.Uint("courseId", courseID), zap.Error(err))
		return
	}

	a.mu.Lock()
	st := a.state(key)
	st.catalog = lessons
	st.catalogLoaded = true
	a.mu.Unlock()
}

// ApplyRemote 合并后端确认的记录
func (a *CourseProgressAggregator) ApplyRemote(rec model.ProgressRecord) model.CourseProgressSummary {
	rec.Provisional = false
	key := courseKey{rec.UserID, rec.CourseID}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(key)
	st.put(rec)
	return a.summarize(key, st)
}

// ApplyProvisional 合并尚未被确认的本地事件
func (a *CourseProgressAggregator) ApplyProvisional(upd model.ProgressUpdate) (model.ProgressRecord, model.CourseProgressSummary) {
	key := courseKey{upd.UserID, upd.CourseID}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(key)
	rec := st.applyProvisional(upd)
	return rec, a.summarize(key, st)
}

// Recompute 以后端数据为准重建课程状态，并叠加仍在离线队列中的事件
func (a *CourseProgressAggregator) Recompute(ctx context.Context, userID, courseID uint, pending []model.OfflineQueueEntry) (model.CourseProgressSummary, error) {
	key := courseKey{userID, courseID}

	records, err := a.backend.ListProgress(ctx, userID, courseID)
	if err != nil {
		return a.Summary(userID, courseID), err
	}
	lessons, catalogErr := a.backend.ListLessons(ctx, courseID)

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.state(key)
	st := newCourseState()
	if catalogErr == nil {
		st.catalog = lessons
		st.catalogLoaded = true
	} else {
		st.catalog = prev.catalog
		st.catalogLoaded = prev.catalogLoaded
	}

	for _, rec := range records {
		rec.Provisional = false
		st.put(rec)
	}
	for _, entry := range pending {
		if entry.Update.UserID == userID && entry.Update.CourseID == courseID {
			st.applyProvisional(entry.Update)
		}
	}

	a.courses[key] = st
	return a.summarize(key, st), nil
}

func (a *CourseProgressAggregator) Summary(userID, courseID uint) model.CourseProgressSummary {
	key := courseKey{userID, courseID}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.courses[key]
	if !ok {
		st = newCourseState()
	}
	return a.summarize(key, st)
}

// CheckCompletion 进度达到 100% 且没有待同步记录时颁发证书，每个用户每门课程只颁发一次
func (a *CourseProgressAggregator) CheckCompletion(ctx context.Context, userID uint, summary model.CourseProgressSummary) model.CourseProgressSummary {
	if summary.Percentage < 100 || summary.PendingLessons > 0 || summary.CertificateIssued {
		return summary
	}

	key := courseKey{userID, summary.CourseID}

	a.mu.Lock()
	if a.certified[key] || a.issuing[key] {
		summary.CertificateIssued = a.certified[key]
		a.mu.Unlock()
		return summary
	}
	a.issuing[key] = true
	a.mu.Unlock()

	issued := a.issue(ctx, userID, summary.CourseID)

	a.mu.Lock()
	delete(a.issuing, key)
	if issued {
		a.certified[key] = true
	}
	summary.CertificateIssued = a.certified[key]
	a.mu.Unlock()

	return summary
}

func (a *CourseProgressAggregator) issue(ctx context.Context, userID, courseID uint) bool {
	cert, err := a.backend.GetCertificate(ctx, userID, courseID)
	if err != nil {
		logger.Log.Warn("Certificate lookup failed", zap.Uint("courseId", courseID), zap.Error(err))
		return false
	}
	if cert != nil {
		return true
	}

	cert, err = a.backend.IssueCertificate(ctx, userID, courseID)
	if err != nil {
		logger.Log.Warn("Certificate issuance failed, will retry on next recompute",
			zap.Uint("userId", userID),
			zap.Uint("courseId", courseID),
			zap.Error(err),
		)
		return false
	}

	monitoring.CertificatesIssued.Inc()
	logger.Log.Info("Certificate issued",
		zap.Uint("userId", userID),
		zap.Uint("courseId", courseID),
		zap.String("number", cert.CertificateNumber),
	)
	return true
}
