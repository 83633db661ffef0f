package service

import (
	"coder_edu_progress/internal/model"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, conn *websocket.Conn) StatusEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event StatusEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func TestStatusHub_StreamsEvents(t *testing.T) {
	hub := NewStatusHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		hub.Run(ctx)
	}()

	registered := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, StatusEvent{Type: EventStatus, Status: AgentStatus{PendingSync: 2}})
		registered <- struct{}{}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readEvent(t, conn)
	assert.Equal(t, EventStatus, initial.Type)
	assert.Equal(t, 2, initial.Status.PendingSync)

	<-registered
	hub.Publish(StatusEvent{
		Type:    EventProgress,
		Status:  AgentStatus{Online: true},
		Summary: &model.CourseProgressSummary{CourseID: testCourse, Percentage: 75},
	})

	event := readEvent(t, conn)
	assert.Equal(t, EventProgress, event.Type)
	require.NotNil(t, event.Summary)
	assert.Equal(t, 75, event.Summary.Percentage)

	cancel()
	<-stopped

	// hub 停止后连接被关闭，发布不会阻塞
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	hub.Publish(StatusEvent{Type: EventStatus})
}
