package offline

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Store 持久化离线队列的一个命名条目，数据不存在时 Load 返回 nil, nil
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Queue 本地进度缓存：尚未同步到后端的进度事件。
// 同一 (用户, 课程, 课时) 只保留最新一条；持久化失败不影响内存中的队列。
type Queue struct {
	mu      sync.Mutex
	store   Store
	entries []model.OfflineQueueEntry
}

// NewQueue store 为 nil 时只保存在内存中
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Open 创建队列并加载已持久化的条目。
// 加载失败时返回可用的空队列和错误；遇到无法识别的格式版本时队列只在内存中运行，避免覆盖原数据。
func Open(ctx context.Context, store Store) (*Queue, error) {
	q := NewQueue(store)
	if store == nil {
		return q, nil
	}

	data, err := store.Load(ctx)
	if err != nil {
		return q, fmt.Errorf("load offline queue: %w", err)
	}

	result, err := Decode(data)
	if err != nil {
		q.store = nil
		return q, err
	}

	if result.Dropped > 0 {
		logger.Log.Warn("Dropped invalid offline queue entries", zap.Int("dropped", result.Dropped))
	}

	for _, entry := range result.Entries {
		q.insert(entry)
	}
	monitoring.OfflineQueueDepth.Set(float64(len(q.entries)))

	// 旧版本格式或有条目被丢弃时立即以当前格式重写
	if result.Version != CurrentVersion || result.Dropped > 0 {
		if err := q.persist(ctx); err != nil {
			return q, err
		}
		logger.Log.Info("Migrated offline queue",
			zap.Int("fromVersion", result.Version),
			zap.Int("toVersion", CurrentVersion),
			zap.Int("entries", len(q.entries)),
		)
	}

	return q, nil
}

// Enqueue 插入或替换同一课时的条目并持久化。
// 被替换条目中未发送的时长和完成状态会并入新条目，可能已送达后端的事件以 Folded 保留各自的 id。
func (q *Queue) Enqueue(ctx context.Context, entry model.OfflineQueueEntry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.insert(entry)
	monitoring.OfflineQueueDepth.Set(float64(len(q.entries)))
	return q.persist(ctx)
}

func (q *Queue) insert(entry model.OfflineQueueEntry) {
	key := entry.Key()
	for i, existing := range q.entries {
		if existing.Key() != key {
			continue
		}
		entry = fold(existing, entry)
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		break
	}
	q.entries = append(q.entries, entry)
}

func fold(older, newer model.OfflineQueueEntry) model.OfflineQueueEntry {
	upd := newer.Update
	prev := older.Update

	events := prev.Events()
	folded := append([]model.FoldedEvent(nil), events[:len(events)-1]...)
	// 两者都未发出过时，较早事件的时长直接并入新事件
	if older.Sent || newer.Sent {
		folded = append(folded, events[len(events)-1])
	}
	upd.Folded = append(folded, upd.Folded...)

	upd.TimeSpentDelta += prev.TimeSpentDelta
	upd.Completed = upd.Completed || prev.Completed
	if prev.ProgressPercent > upd.ProgressPercent {
		upd.ProgressPercent = prev.ProgressPercent
	}
	if prev.OccurredAt.After(upd.OccurredAt) {
		upd.OccurredAt = prev.OccurredAt
	}

	newer.Update = upd
	return newer
}

// Drain 按插入顺序返回全部条目的副本，不删除；确认同步后由调用方 Ack 或 Clear
func (q *Queue) Drain() []model.OfflineQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.OfflineQueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Pending 返回某用户某课程仍待同步的条目，courseID 为 0 时返回该用户全部条目
func (q *Queue) Pending(userID, courseID uint) []model.OfflineQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []model.OfflineQueueEntry
	for _, e := range q.entries {
		if e.Update.UserID != userID {
			continue
		}
		if courseID != 0 && e.Update.CourseID != courseID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Ack 删除已确认同步的事件，返回剩余条目数
func (q *Queue) Ack(ctx context.Context, eventIDs ...string) (int, error) {
	if len(eventIDs) == 0 {
		return q.Len(), nil
	}

	acked := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		acked[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, e := range q.entries {
		if _, ok := acked[e.Update.EventID]; ok {
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	monitoring.OfflineQueueDepth.Set(float64(len(q.entries)))
	return len(q.entries), q.persist(ctx)
}

// MarkSent 标记回放失败的事件，之后合并进来的事件不会与它们共用 id
func (q *Queue) MarkSent(ctx context.Context, eventIDs ...string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	sent := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		sent[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	changed := false
	for i := range q.entries {
		if _, ok := sent[q.entries[i].Update.EventID]; ok && !q.entries[i].Sent {
			q.entries[i].Sent = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return q.persist(ctx)
}

// Clear 清空队列，只在全部条目都已成功回放后调用
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil
	monitoring.OfflineQueueDepth.Set(0)
	return q.persist(ctx)
}

// persist 调用方需持有锁
func (q *Queue) persist(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	data, err := Encode(q.entries)
	if err != nil {
		return err
	}
	if err := q.store.Save(ctx, data); err != nil {
		return &PersistError{Err: err}
	}
	return nil
}

// PersistError 持久化失败，队列在内存中仍然有效
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "persist offline queue: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError 判断错误是否只是持久化失败
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
