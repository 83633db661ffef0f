package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/offline"
	"coder_edu_progress/internal/util"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend unavailable")

type progressKey struct {
	userID   uint
	lessonID uint
}

// fakeBackend 内存实现，合并规则与服务端一致
type fakeBackend struct {
	mu           sync.Mutex
	catalog      map[uint][]uint
	records      map[progressKey]*model.ProgressRecord
	order        []progressKey
	certificates map[courseKey]*model.Certificate
	activities   []model.ActivityLog

	rejected     map[uint]bool
	upserts      int
	issued       int
	failing      atomic.Bool
	dropResponse atomic.Bool

	// 非空时 UpsertProgress 在返回前通知 entered 并等待 release
	entered chan struct{}
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		catalog:      make(map[uint][]uint),
		records:      make(map[progressKey]*model.ProgressRecord),
		certificates: make(map[courseKey]*model.Certificate),
		rejected:     make(map[uint]bool),
	}
}

// reject 之后对该课时的写入一律返回确定性拒绝
func (b *fakeBackend) reject(lessonID uint) {
	b.mu.Lock()
	b.rejected[lessonID] = true
	b.mu.Unlock()
}

func (b *fakeBackend) FindProgress(ctx context.Context, userID, lessonID uint) (*model.ProgressRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[progressKey{userID, lessonID}]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (b *fakeBackend) UpsertProgress(ctx context.Context, upd model.ProgressUpdate) (*model.ProgressRecord, error) {
	if b.entered != nil {
		b.entered <- struct{}{}
		<-b.release
	}
	if b.failing.Load() {
		return nil, errBackendDown
	}

	b.mu.Lock()
	if b.rejected[upd.LessonID] {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: lesson %d does not belong to course %d", util.ErrRejected, upd.LessonID, upd.CourseID)
	}
	key := progressKey{upd.UserID, upd.LessonID}
	rec, ok := b.records[key]
	switch {
	case !ok:
		created := model.NewProgressRecord(upd)
		created.ID = uint(len(b.records) + 1)
		rec = &created
		b.records[key] = rec
		b.order = append(b.order, key)
		b.upserts++
	case !rec.Covers(upd):
		rec.Apply(upd)
		b.upserts++
	}
	out := *rec
	b.mu.Unlock()

	if b.dropResponse.Load() {
		return nil, errBackendDown
	}
	return &out, nil
}

func (b *fakeBackend) ListProgress(ctx context.Context, userID, courseID uint) ([]model.ProgressRecord, error) {
	if b.failing.Load() {
		return nil, errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []model.ProgressRecord
	for _, key := range b.order {
		rec := b.records[key]
		if rec.UserID == userID && rec.CourseID == courseID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (b *fakeBackend) ListLessons(ctx context.Context, courseID uint) ([]uint, error) {
	if b.failing.Load() {
		return nil, errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint(nil), b.catalog[courseID]...), nil
}

func (b *fakeBackend) IssueCertificate(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	if b.failing.Load() {
		return nil, errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := courseKey{userID, courseID}
	if cert, ok := b.certificates[key]; ok {
		return cert, nil
	}
	cert := &model.Certificate{
		UserID:            userID,
		CourseID:          courseID,
		CertificateNumber: uuid.NewString(),
		IssuedAt:          time.Now(),
	}
	b.certificates[key] = cert
	b.issued++
	return cert, nil
}

func (b *fakeBackend) GetCertificate(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	if b.failing.Load() {
		return nil, errBackendDown
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.certificates[courseKey{userID, courseID}], nil
}

func (b *fakeBackend) LogActivity(ctx context.Context, entry model.ActivityLog) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activities = append(b.activities, entry)
	return nil
}

func (b *fakeBackend) Ping(ctx context.Context) error {
	if b.failing.Load() {
		return errBackendDown
	}
	return nil
}

func (b *fakeBackend) upsertCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upserts
}

func (b *fakeBackend) issuedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issued
}

func (b *fakeBackend) record(userID, lessonID uint) model.ProgressRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[progressKey{userID, lessonID}]
	if !ok {
		return model.ProgressRecord{}
	}
	return *rec
}

type fakeConn struct {
	online atomic.Bool
}

func (c *fakeConn) Online() bool {
	return c.online.Load()
}

type capturePublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *capturePublisher) Publish(event StatusEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *capturePublisher) last() StatusEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return StatusEvent{}
	}
	return p.events[len(p.events)-1]
}

const (
	testUser   uint = 1
	testCourse uint = 10
	testModule uint = 100
)

type harness struct {
	backend    *fakeBackend
	conn       *fakeConn
	queue      *offline.Queue
	aggregator *CourseProgressAggregator
	status     *StatusBoard
	tracker    *ProgressTracker
	reconciler *SyncReconciler
	events     *capturePublisher
}

func newHarness(t *testing.T, identity IdentityProvider) *harness {
	t.Helper()

	backend := newFakeBackend()
	backend.catalog[testCourse] = []uint{1, 2, 3, 4}

	conn := &fakeConn{}
	conn.online.Store(true)

	queue, err := offline.Open(context.Background(), nil)
	require.NoError(t, err)

	aggregator := NewCourseProgressAggregator(backend)
	status := NewStatusBoard(conn, queue, identity)
	events := &capturePublisher{}
	status.AddPublisher(events)

	tracker := NewProgressTracker(backend, queue, conn, identity, aggregator, status)
	reconciler := NewSyncReconciler(context.Background(), tracker)

	h := &harness{
		backend:    backend,
		conn:       conn,
		queue:      queue,
		aggregator: aggregator,
		status:     status,
		tracker:    tracker,
		reconciler: reconciler,
		events:     events,
	}
	t.Cleanup(func() {
		reconciler.Wait()
		tracker.Wait()
	})
	return h
}

func (h *harness) complete(t *testing.T, lessonID uint) *TrackResult {
	t.Helper()
	result, err := h.tracker.TrackProgress(context.Background(), TrackRequest{
		CourseID:  testCourse,
		ModuleID:  testModule,
		LessonID:  lessonID,
		Completed: true,
	})
	require.NoError(t, err)
	return result
}
