package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(eventID string, lessonID uint, completed bool, delta int, at time.Time) ProgressUpdate {
	return ProgressUpdate{
		EventID:        eventID,
		UserID:         1,
		CourseID:       10,
		ModuleID:       100,
		LessonID:       lessonID,
		Completed:      completed,
		TimeSpentDelta: delta,
		OccurredAt:     at,
	}
}

func TestApply_CompletionIsMonotonic(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	rec := NewProgressRecord(update("e1", 1, true, 30, t0))
	require.True(t, rec.Completed)
	assert.Equal(t, 100, rec.ProgressPercent)
	assert.Equal(t, 30, rec.TimeSpentSeconds)
	require.NotNil(t, rec.CompletedAt)

	// 第二次标记完成：仍为完成，只累加第二次的时长
	rec.Apply(update("e2", 1, true, 15, t0.Add(time.Minute)))
	assert.True(t, rec.Completed)
	assert.Equal(t, 45, rec.TimeSpentSeconds)
	assert.Equal(t, t0, *rec.CompletedAt)
	assert.Equal(t, "e2", rec.LastEventID)

	// 之后的未完成事件不会回退状态
	rec.Apply(update("e3", 1, false, 5, t0.Add(2*time.Minute)))
	assert.True(t, rec.Completed)
	assert.Equal(t, 100, rec.ProgressPercent)
	assert.Equal(t, LessonCompleted, rec.DeriveState())
}

func TestApply_PercentNeverDecreasesAndLastAccessedIsMax(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	upd := update("e1", 1, false, 0, t0.Add(time.Hour))
	upd.ProgressPercent = 60
	rec := NewProgressRecord(upd)
	assert.Equal(t, LessonInProgress, rec.DeriveState())

	older := update("e2", 1, false, 10, t0)
	older.ProgressPercent = 20
	rec.Apply(older)

	assert.Equal(t, 60, rec.ProgressPercent)
	assert.Equal(t, 10, rec.TimeSpentSeconds)
	assert.Equal(t, t0.Add(time.Hour), *rec.LastAccessedAt)
}

func TestState_NotStarted(t *testing.T) {
	assert.Equal(t, LessonNotStarted, ProgressRecord{}.DeriveState())
}

func TestApply_SetsState(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	rec := NewProgressRecord(update("e1", 1, false, 10, t0))
	assert.Equal(t, LessonInProgress, rec.State)

	rec.Apply(update("e2", 1, true, 0, t0.Add(time.Minute)))
	assert.Equal(t, LessonCompleted, rec.State)
}

func TestApply_ReplayedEventsCountOnce(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	first := update("e1", 1, false, 30, t0)
	rec := NewProgressRecord(first)
	rec.Apply(first)
	assert.Equal(t, 30, rec.TimeSpentSeconds)
	assert.True(t, rec.Covers(first))

	// e1 已应用，合并后的更新只累加 e2 的时长
	folded := update("e2", 1, false, 40, t0.Add(time.Minute))
	folded.Folded = []FoldedEvent{{EventID: "e1", TimeSpentDelta: 30}}
	assert.False(t, rec.Covers(folded))

	rec.Apply(folded)
	assert.Equal(t, 40, rec.TimeSpentSeconds)
	assert.Equal(t, "e2", rec.LastEventID)
	assert.True(t, rec.Covers(folded))

	rec.Apply(folded)
	assert.Equal(t, 40, rec.TimeSpentSeconds)
}

func TestApply_AppliedEventsAreBounded(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	rec := ProgressRecord{}
	for i := 0; i < maxAppliedEvents+10; i++ {
		rec.Apply(update(fmt.Sprintf("e%d", i), 1, false, 1, t0))
	}
	assert.Len(t, rec.AppliedEventIDs, maxAppliedEvents)
	assert.Equal(t, maxAppliedEvents+10, rec.TimeSpentSeconds)
	assert.True(t, rec.HasApplied(fmt.Sprintf("e%d", maxAppliedEvents+9)))
	assert.False(t, rec.HasApplied("e0"))
}

func TestUpdateEvents(t *testing.T) {
	upd := update("e3", 1, false, 50, time.Now())
	upd.Folded = []FoldedEvent{{EventID: "e1", TimeSpentDelta: 30}, {EventID: "e2", TimeSpentDelta: 5}}

	assert.Equal(t, []FoldedEvent{
		{EventID: "e1", TimeSpentDelta: 30},
		{EventID: "e2", TimeSpentDelta: 5},
		{EventID: "e3", TimeSpentDelta: 15},
	}, upd.Events())
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 75, Percentage(3, 4))
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 100, Percentage(4, 4))
}

func TestSummarize(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	a := NewProgressRecord(update("a", 1, true, 60, t0))
	b := NewProgressRecord(update("b", 2, true, 30, t0.Add(time.Minute)))
	c := NewProgressRecord(update("c", 3, true, 10, t0.Add(2*time.Minute)))
	c.Provisional = true

	s := Summarize(10, []ProgressRecord{a, b, c}, []uint{1, 2, 3, 4})

	assert.Equal(t, uint(10), s.CourseID)
	assert.Equal(t, 3, s.CompletedLessons)
	assert.Equal(t, 4, s.TotalLessons)
	assert.Equal(t, 75, s.Percentage)
	assert.Equal(t, 100, s.TimeSpentSeconds)
	assert.Equal(t, 1, s.PendingLessons)
	require.NotNil(t, s.LastAccessedAt)
	assert.Equal(t, t0.Add(2*time.Minute), *s.LastAccessedAt)
	require.Len(t, s.Details, 3)
	assert.Equal(t, LessonCompleted, s.Details[0].State)
}

func TestSummarize_WithoutCatalog(t *testing.T) {
	s := Summarize(10, nil, nil)
	assert.Equal(t, 0, s.TotalLessons)
	assert.Equal(t, 0, s.Percentage)
	assert.Nil(t, s.LastAccessedAt)
	assert.NotNil(t, s.Details)

	// 目录未加载时以记录数作为总课时
	rec := NewProgressRecord(update("a", 7, false, 5, time.Now()))
	s = Summarize(10, []ProgressRecord{rec}, nil)
	assert.Equal(t, 1, s.TotalLessons)
	assert.Equal(t, 0, s.Percentage)
}

func TestSummarize_RecordsOutsideCatalogCountTowardsTotal(t *testing.T) {
	rec := NewProgressRecord(update("a", 9, true, 5, time.Now()))
	s := Summarize(10, []ProgressRecord{rec}, []uint{1, 2, 3})
	assert.Equal(t, 4, s.TotalLessons)
	assert.Equal(t, 25, s.Percentage)
}
