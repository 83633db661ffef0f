package model

import (
	"time"
)

type ActivityType string

const (
	ActivityLessonProgress  ActivityType = "lesson_progress"
	ActivityLessonCompleted ActivityType = "lesson_completed"
)

// ActivityLog 记录用户的学习活动，只追加
type ActivityLog struct {
	ID        uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint         `gorm:"index;not null" json:"userId"`
	CourseID  uint         `gorm:"index" json:"courseId"`
	LessonID  uint         `json:"lessonId"`
	EventID   string       `gorm:"size:36" json:"eventId"`
	Activity  ActivityType `gorm:"size:32" json:"activity"`
	Duration  int          `gorm:"default:0" json:"duration"`
	Buffered  bool         `gorm:"default:false" json:"buffered"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
