package service

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/util"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackProgress_OnlineThenOfflineThenReconnect(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})

	first := h.complete(t, 1)
	assert.Equal(t, OutcomeSynced, first.Outcome)
	assert.Equal(t, 25, first.Summary.Percentage)

	second := h.complete(t, 2)
	assert.Equal(t, OutcomeSynced, second.Outcome)
	assert.Equal(t, 50, second.Summary.Percentage)
	assert.Equal(t, 4, second.Summary.TotalLessons)

	h.conn.online.Store(false)
	third := h.complete(t, 3)
	assert.Equal(t, OutcomeBuffered, third.Outcome)
	assert.True(t, third.Record.Provisional)
	assert.Equal(t, 75, third.Summary.Percentage)
	assert.Equal(t, 1, third.Summary.PendingLessons)
	assert.Equal(t, 1, h.queue.Len())
	assert.Equal(t, 2, h.backend.upsertCount())
	assert.Equal(t, 1, h.status.Snapshot().PendingSync)

	h.conn.online.Store(true)
	result, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.Remaining)
	require.Len(t, result.Courses, 1)
	assert.Equal(t, 75, result.Courses[0].Percentage)
	assert.Zero(t, result.Courses[0].PendingLessons)

	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 3, h.backend.upsertCount())
	assert.True(t, h.backend.record(testUser, 3).Completed)

	summary := h.aggregator.Summary(testUser, testCourse)
	assert.Equal(t, 75, summary.Percentage)
	assert.Equal(t, 3, summary.CompletedLessons)

	h.tracker.Wait()
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	require.Len(t, h.backend.activities, 3)
	buffered := 0
	for _, a := range h.backend.activities {
		if a.Buffered {
			buffered++
			assert.Equal(t, uint(3), a.LessonID)
		}
	}
	assert.Equal(t, 1, buffered)
}

func TestTrackProgress_AccumulatesTimeSpent(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	ctx := context.Background()

	for _, delta := range []int{30, 15} {
		_, err := h.tracker.TrackProgress(ctx, TrackRequest{
			CourseID:         testCourse,
			ModuleID:         testModule,
			LessonID:         1,
			ProgressPercent:  40,
			TimeSpentSeconds: delta,
		})
		require.NoError(t, err)
	}

	rec := h.backend.record(testUser, 1)
	assert.Equal(t, 45, rec.TimeSpentSeconds)
	assert.Equal(t, 40, rec.ProgressPercent)
	assert.False(t, rec.Completed)

	summary := h.aggregator.Summary(testUser, testCourse)
	assert.Equal(t, 45, summary.TimeSpentSeconds)
	assert.Zero(t, summary.Percentage)
}

func TestTrackProgress_RejectsUnauthenticated(t *testing.T) {
	h := newHarness(t, StaticIdentity{})

	_, err := h.tracker.TrackProgress(context.Background(), TrackRequest{
		CourseID: testCourse, ModuleID: testModule, LessonID: 1, Completed: true,
	})
	assert.ErrorIs(t, err, util.ErrUnauthenticated)
	assert.Zero(t, h.queue.Len())
	assert.Zero(t, h.backend.upsertCount())
}

func TestTrackProgress_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	ctx := context.Background()

	_, err := h.tracker.TrackProgress(ctx, TrackRequest{
		CourseID: testCourse, ModuleID: testModule, LessonID: 1, ProgressPercent: 150,
	})
	assert.ErrorIs(t, err, util.ErrInvalidProgress)

	_, err = h.tracker.TrackProgress(ctx, TrackRequest{CourseID: testCourse, ModuleID: testModule})
	assert.ErrorIs(t, err, util.ErrInvalidProgress)

	_, err = h.tracker.TrackProgress(ctx, TrackRequest{
		CourseID: testCourse, ModuleID: testModule, LessonID: 1, TimeSpentSeconds: -1,
	})
	assert.ErrorIs(t, err, util.ErrInvalidProgress)

	assert.Zero(t, h.backend.upsertCount())
	assert.Zero(t, h.queue.Len())
}

func TestTrackProgress_BackendFailureBuffers(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	h.backend.failing.Store(true)

	result := h.complete(t, 1)
	assert.Equal(t, OutcomeBuffered, result.Outcome)
	assert.ErrorIs(t, result.Cause, errBackendDown)
	assert.Equal(t, 1, h.queue.Len())
	// 目录不可用时以已见记录数作为总课时
	assert.Equal(t, 1, result.Summary.TotalLessons)
	assert.True(t, h.queue.Drain()[0].Sent)
}

func TestTrackProgress_RejectedUpdateIsNotBuffered(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	h.backend.catalog[testCourse] = []uint{1}
	h.backend.reject(99)

	result, err := h.tracker.TrackProgress(context.Background(), TrackRequest{
		CourseID: testCourse, ModuleID: testModule, LessonID: 99, TimeSpentSeconds: 10,
	})
	assert.ErrorIs(t, err, util.ErrRejected)
	assert.Nil(t, result)
	assert.Zero(t, h.queue.Len())

	completed := h.complete(t, 1)
	assert.Equal(t, OutcomeSynced, completed.Outcome)
	assert.Equal(t, 100, completed.Summary.Percentage)
	assert.Zero(t, completed.Summary.PendingLessons)
	assert.True(t, completed.Summary.CertificateIssued)
	assert.Equal(t, model.LessonCompleted, completed.Record.State)
}

func TestTrackProgress_OnlineKeepsPendingOverlay(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	ctx := context.Background()

	h.conn.online.Store(false)
	_, err := h.tracker.TrackProgress(ctx, TrackRequest{
		CourseID: testCourse, ModuleID: testModule, LessonID: 1, TimeSpentSeconds: 10,
	})
	require.NoError(t, err)

	h.conn.online.Store(true)
	result, err := h.tracker.TrackProgress(ctx, TrackRequest{
		CourseID: testCourse, ModuleID: testModule, LessonID: 1, TimeSpentSeconds: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, result.Outcome)
	assert.True(t, result.Record.Provisional)
	assert.Equal(t, 15, result.Record.TimeSpentSeconds)
	assert.Equal(t, 1, result.Summary.PendingLessons)

	_, err = h.reconciler.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, h.backend.record(testUser, 1).TimeSpentSeconds)
	assert.Equal(t, 15, h.aggregator.Summary(testUser, testCourse).TimeSpentSeconds)
}

func TestCertificate_IssuedOnceAtFullCompletion(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	ctx := context.Background()

	for _, lesson := range []uint{1, 2, 3} {
		result := h.complete(t, lesson)
		assert.False(t, result.Summary.CertificateIssued)
	}
	assert.Zero(t, h.backend.issuedCount())

	result := h.complete(t, 4)
	assert.Equal(t, 100, result.Summary.Percentage)
	assert.True(t, result.Summary.CertificateIssued)
	assert.Equal(t, 1, h.backend.issuedCount())

	// 再次完成和重新计算都不会重复颁发
	h.complete(t, 4)
	for i := 0; i < 3; i++ {
		summary, err := h.aggregator.Recompute(ctx, testUser, testCourse, nil)
		require.NoError(t, err)
		summary = h.aggregator.CheckCompletion(ctx, testUser, summary)
		assert.True(t, summary.CertificateIssued)
	}
	assert.Equal(t, 1, h.backend.issuedCount())
}

func TestCertificate_WaitsForPendingSync(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})

	for _, lesson := range []uint{1, 2, 3} {
		h.complete(t, lesson)
	}

	h.conn.online.Store(false)
	result := h.complete(t, 4)
	assert.Equal(t, 100, result.Summary.Percentage)
	assert.False(t, result.Summary.CertificateIssued)
	assert.Zero(t, h.backend.issuedCount())

	h.conn.online.Store(true)
	synced, err := h.reconciler.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, synced.Courses, 1)
	assert.True(t, synced.Courses[0].CertificateIssued)
	assert.Equal(t, 1, h.backend.issuedCount())
}

func TestCertificate_NotIssuedForEmptyCatalog(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})
	summary := h.aggregator.CheckCompletion(context.Background(), testUser, h.aggregator.Summary(testUser, 99))
	assert.False(t, summary.CertificateIssued)
	assert.Zero(t, h.backend.issuedCount())
}

func TestStatusBoard_PublishesSummaries(t *testing.T) {
	h := newHarness(t, StaticIdentity{UserID: testUser})

	h.complete(t, 1)
	event := h.events.last()
	assert.Equal(t, EventProgress, event.Type)
	require.NotNil(t, event.Summary)
	assert.Equal(t, 25, event.Summary.Percentage)
	assert.True(t, event.Status.Online)
	assert.True(t, event.Status.SignedIn)

	h.status.recordSync(time.Now(), assert.AnError)
	event = h.events.last()
	assert.Equal(t, EventStatus, event.Type)
	assert.Equal(t, assert.AnError.Error(), event.Status.LastSyncError)
	require.NotNil(t, event.Status.LastSyncAt)
}

func TestSession_SignInReadsUserFromToken(t *testing.T) {
	token, err := util.GenerateJWT(7, util.RoleStudent, "secret", time.Hour)
	require.NoError(t, err)

	s := NewSession()
	_, ok := s.Current()
	assert.False(t, ok)
	assert.Empty(t, s.Token())

	ident, err := s.SignIn(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), ident.UserID)
	assert.Equal(t, token, s.Token())

	_, err = s.SignIn("not-a-token")
	assert.ErrorIs(t, err, util.ErrUnauthenticated)
	// 失败的登录不影响当前会话
	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, uint(7), current.UserID)

	s.SignOut()
	_, ok = s.Current()
	assert.False(t, ok)
}
