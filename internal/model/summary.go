package model

import (
	"math"
	"time"
)

// CourseProgressSummary 课程维度的进度汇总，只在客户端派生，不落库
type CourseProgressSummary struct {
	CourseID          uint             `json:"courseId"`
	Percentage        int              `json:"percentage"`
	CompletedLessons  int              `json:"completedLessons"`
	TotalLessons      int              `json:"totalLessons"`
	TimeSpentSeconds  int              `json:"timeSpentSeconds"`
	LastAccessedAt    *time.Time       `json:"lastAccessedAt"`
	PendingLessons    int              `json:"pendingLessons"`
	CertificateIssued bool             `json:"certificateIssued"`
	Details           []ProgressRecord `json:"details"`
}

// Summarize 由课时记录推导课程进度。
// catalog 为课程的课时目录，为空时以记录数作为总课时数。
func Summarize(courseID uint, records []ProgressRecord, catalog []uint) CourseProgressSummary {
	s := CourseProgressSummary{
		CourseID: courseID,
		Details:  make([]ProgressRecord, 0, len(records)),
	}

	lessons := make(map[uint]struct{}, len(catalog)+len(records))
	for _, id := range catalog {
		lessons[id] = struct{}{}
	}

	for _, rec := range records {
		lessons[rec.LessonID] = struct{}{}
		if rec.Completed {
			s.CompletedLessons++
		}
		if rec.Provisional {
			s.PendingLessons++
		}
		s.TimeSpentSeconds += rec.TimeSpentSeconds
		if rec.LastAccessedAt != nil && (s.LastAccessedAt == nil || rec.LastAccessedAt.After(*s.LastAccessedAt)) {
			at := *rec.LastAccessedAt
			s.LastAccessedAt = &at
		}
		rec.State = rec.DeriveState()
		s.Details = append(s.Details, rec)
	}

	s.TotalLessons = len(lessons)
	s.Percentage = Percentage(s.CompletedLessons, s.TotalLessons)
	return s
}

// Percentage round(completed/total*100)，total 为 0 时返回 0
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}
