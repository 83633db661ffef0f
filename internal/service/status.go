package service

import (
	"coder_edu_progress/internal/model"
	"sync"
	"time"
)

// AgentStatus 非阻塞的“待同步”提示所需的全部状态
type AgentStatus struct {
	Online        bool       `json:"online"`
	SignedIn      bool       `json:"signedIn"`
	PendingSync   int        `json:"pendingSync"`
	Syncing       bool       `json:"syncing"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	LastSyncError string     `json:"lastSyncError,omitempty"`
}

const (
	EventStatus   = "STATUS"
	EventProgress = "COURSE_PROGRESS"
)

type StatusEvent struct {
	Type    string                       `json:"type"`
	Status  AgentStatus                  `json:"status"`
	Summary *model.CourseProgressSummary `json:"summary,omitempty"`
}

// StatusPublisher 接收状态变化，例如推送到 WebSocket
type StatusPublisher interface {
	Publish(event StatusEvent)
}

type queueLen interface {
	Len() int
}

// StatusBoard 汇总连接状态、队列长度和最近一次同步结果
type StatusBoard struct {
	conn     ConnectivityState
	queue    queueLen
	identity IdentityProvider

	mu            sync.Mutex
	syncing       bool
	lastSyncAt    *time.Time
	lastSyncError string
	publishers    []StatusPublisher
}

func NewStatusBoard(conn ConnectivityState, queue queueLen, identity IdentityProvider) *StatusBoard {
	return &StatusBoard{conn: conn, queue: queue, identity: identity}
}

func (b *StatusBoard) AddPublisher(p StatusPublisher) {
	b.mu.Lock()
	b.publishers = append(b.publishers, p)
	b.mu.Unlock()
}

func (b *StatusBoard) Snapshot() AgentStatus {
	_, signedIn := b.identity.Current()

	b.mu.Lock()
	defer b.mu.Unlock()
	return AgentStatus{
		Online:        b.conn.Online(),
		SignedIn:      signedIn,
		PendingSync:   b.queue.Len(),
		Syncing:       b.syncing,
		LastSyncAt:    b.lastSyncAt,
		LastSyncError: b.lastSyncError,
	}
}

// Notify 广播当前状态，summary 可为 nil
func (b *StatusBoard) Notify(summary *model.CourseProgressSummary) {
	event := StatusEvent{Type: EventStatus, Status: b.Snapshot(), Summary: summary}
	if summary != nil {
		event.Type = EventProgress
	}

	b.mu.Lock()
	publishers := append([]StatusPublisher(nil), b.publishers...)
	b.mu.Unlock()

	for _, p := range publishers {
		p.Publish(event)
	}
}

func (b *StatusBoard) setSyncing(syncing bool) {
	b.mu.Lock()
	b.syncing = syncing
	b.mu.Unlock()
	b.Notify(nil)
}

func (b *StatusBoard) recordSync(at time.Time, err error) {
	b.mu.Lock()
	b.syncing = false
	b.lastSyncAt = &at
	b.lastSyncError = ""
	if err != nil {
		b.lastSyncError = err.Error()
	}
	b.mu.Unlock()
	b.Notify(nil)
}
