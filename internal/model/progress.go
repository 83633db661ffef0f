package model

import (
	"time"

	"gorm.io/gorm"
)

// maxAppliedEvents 每条记录保留的已应用事件数
const maxAppliedEvents = 64

// LessonState 单个课时的学习状态，只会向前推进
type LessonState string

const (
	LessonNotStarted LessonState = "not_started"
	LessonInProgress LessonState = "in_progress"
	LessonCompleted  LessonState = "completed"
)

// ProgressRecord 用户在某个课时上的学习进度，(user_id, lesson_id) 唯一
// swagger:model ProgressRecord
type ProgressRecord struct {
	ID               uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uint        `gorm:"not null;index:idx_progress_user_lesson,unique;index:idx_progress_user_course" json:"userId"`
	CourseID         uint        `gorm:"not null;index:idx_progress_user_course" json:"courseId"`
	ModuleID         uint        `gorm:"not null" json:"moduleId"`
	LessonID         uint        `gorm:"not null;index:idx_progress_user_lesson,unique" json:"lessonId"`
	Completed        bool        `gorm:"default:false" json:"completed"`
	ProgressPercent  int         `gorm:"default:0" json:"progressPercent"`
	TimeSpentSeconds int         `gorm:"default:0" json:"timeSpentSeconds"`
	LastAccessedAt   *time.Time  `json:"lastAccessedAt"`
	CompletedAt      *time.Time  `json:"completedAt,omitempty"`
	LastEventID      string      `gorm:"size:36" json:"lastEventId,omitempty"`
	AppliedEventIDs  []string    `gorm:"serializer:json;type:text" json:"appliedEventIds,omitempty"`
	State            LessonState `gorm:"-" json:"state"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`

	// Provisional 本地缓冲、尚未被远端确认
	Provisional bool `gorm:"-" json:"provisional,omitempty"`
}

func (ProgressRecord) TableName() string {
	return "lesson_progress"
}

// FoldedEvent 离线时被合并进同一条目的较早事件及其时长
type FoldedEvent struct {
	EventID        string `json:"eventId" validate:"required,uuid"`
	TimeSpentDelta int    `json:"timeSpentDelta" validate:"min=0"`
}

// ProgressUpdate 一次进度上报事件，TimeSpentDelta 为本次新增的学习时长，包含 Folded 中各事件的时长
type ProgressUpdate struct {
	EventID         string    `json:"eventId" validate:"required,uuid"`
	UserID          uint      `json:"userId" validate:"required"`
	CourseID        uint      `json:"courseId" validate:"required"`
	ModuleID        uint      `json:"moduleId" validate:"required"`
	LessonID        uint      `json:"lessonId" validate:"required"`
	Completed       bool      `json:"completed"`
	ProgressPercent int       `json:"progressPercent" validate:"min=0,max=100"`
	TimeSpentDelta  int       `json:"timeSpentDelta" validate:"min=0"`
	OccurredAt      time.Time `json:"occurredAt" validate:"required"`

	Folded []FoldedEvent `json:"folded,omitempty" validate:"dive"`
}

// Events 按发生顺序拆出组成本次更新的事件，最后一个是 EventID 本身
func (u ProgressUpdate) Events() []FoldedEvent {
	own := u.TimeSpentDelta
	out := make([]FoldedEvent, 0, len(u.Folded)+1)
	for _, ev := range u.Folded {
		own -= ev.TimeSpentDelta
		out = append(out, ev)
	}
	if own < 0 {
		own = 0
	}
	return append(out, FoldedEvent{EventID: u.EventID, TimeSpentDelta: own})
}

// NewProgressRecord 首次访问课时时根据事件创建记录
func NewProgressRecord(upd ProgressUpdate) ProgressRecord {
	rec := ProgressRecord{
		UserID:   upd.UserID,
		CourseID: upd.CourseID,
		ModuleID: upd.ModuleID,
		LessonID: upd.LessonID,
	}
	rec.Apply(upd)
	return rec
}

// Apply 把事件合并进记录。完成状态单调，进度百分比不回退，时长累加。
// 已应用过的事件不再累加时长，重放同一更新结果不变。
// 远端 upsert 和本地乐观更新共用这一规则。
func (r *ProgressRecord) Apply(upd ProgressUpdate) {
	if upd.ModuleID != 0 {
		r.ModuleID = upd.ModuleID
	}
	if upd.ProgressPercent > r.ProgressPercent {
		r.ProgressPercent = upd.ProgressPercent
	}
	if upd.Completed && !r.Completed {
		r.Completed = true
		at := upd.OccurredAt
		r.CompletedAt = &at
	}
	if r.Completed {
		r.ProgressPercent = 100
	}
	for _, ev := range upd.Events() {
		if r.HasApplied(ev.EventID) {
			continue
		}
		if ev.TimeSpentDelta > 0 {
			r.TimeSpentSeconds += ev.TimeSpentDelta
		}
		r.AppliedEventIDs = append(r.AppliedEventIDs, ev.EventID)
	}
	if n := len(r.AppliedEventIDs); n > maxAppliedEvents {
		r.AppliedEventIDs = append([]string(nil), r.AppliedEventIDs[n-maxAppliedEvents:]...)
	}
	if r.LastAccessedAt == nil || upd.OccurredAt.After(*r.LastAccessedAt) {
		at := upd.OccurredAt
		r.LastAccessedAt = &at
	}
	r.LastEventID = upd.EventID
	r.State = r.DeriveState()
}

func (r ProgressRecord) HasApplied(eventID string) bool {
	for _, id := range r.AppliedEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// Covers 更新中的所有事件都已应用过
func (r ProgressRecord) Covers(upd ProgressUpdate) bool {
	for _, ev := range upd.Events() {
		if !r.HasApplied(ev.EventID) {
			return false
		}
	}
	return true
}

func (r *ProgressRecord) AfterFind(tx *gorm.DB) error {
	r.State = r.DeriveState()
	return nil
}

func (r ProgressRecord) DeriveState() LessonState {
	switch {
	case r.Completed:
		return LessonCompleted
	case r.ProgressPercent > 0 || r.TimeSpentSeconds > 0:
		return LessonInProgress
	default:
		return LessonNotStarted
	}
}

// OfflineQueueEntry 离线队列中的一条待同步事件
// Sent 表示该事件至少发出过一次，后端可能已经应用
type OfflineQueueEntry struct {
	Update   ProgressUpdate `json:"update"`
	QueuedAt time.Time      `json:"queuedAt" validate:"required"`
	Sent     bool           `json:"sent,omitempty"`
}

// QueueKey 去重键：同一用户同一课程同一课时只保留一条
type QueueKey struct {
	UserID   uint
	CourseID uint
	LessonID uint
}

func (e OfflineQueueEntry) Key() QueueKey {
	return QueueKey{UserID: e.Update.UserID, CourseID: e.Update.CourseID, LessonID: e.Update.LessonID}
}
