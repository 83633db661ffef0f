package controller

import (
	"bytes"
	"coder_edu_progress/internal/client"
	"coder_edu_progress/internal/connectivity"
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/offline"
	"coder_edu_progress/internal/service"
	"coder_edu_progress/internal/util"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// newOfflineAgent 后端地址不可达，所有写入都进入离线队列
func newOfflineAgent(t *testing.T) (*gin.Engine, *AgentController) {
	t.Helper()

	unreachable := httptest.NewServer(http.NotFoundHandler())
	backendURL := unreachable.URL
	unreachable.Close()

	session := service.NewSession()
	backend := client.NewBackendClient(backendURL, session, time.Second)
	monitor := connectivity.NewMonitor(backend, time.Minute, time.Second, false)

	queue, err := offline.Open(context.Background(), nil)
	require.NoError(t, err)

	aggregator := service.NewCourseProgressAggregator(backend)
	status := service.NewStatusBoard(monitor, queue, session)
	tracker := service.NewProgressTracker(backend, queue, monitor, session, aggregator, status)
	reconciler := service.NewSyncReconciler(context.Background(), tracker)
	viewer := service.NewLessonViewer(tracker, time.Hour)

	c := &AgentController{
		Session:    session,
		Tracker:    tracker,
		Viewer:     viewer,
		Reconciler: reconciler,
		Aggregator: aggregator,
		Queue:      queue,
		Status:     status,
		Hub:        service.NewStatusHub(),
	}
	t.Cleanup(func() {
		viewer.Close()
		reconciler.Wait()
		tracker.Wait()
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	agent := r.Group("/agent")
	agent.GET("/status", c.GetStatus)
	agent.PUT("/session", c.SignIn)
	agent.DELETE("/session", c.SignOut)
	agent.POST("/progress", c.TrackProgress)
	agent.POST("/lessons/open", c.OpenLesson)
	agent.POST("/lessons/close", c.CloseLesson)
	agent.GET("/courses/:courseId/progress", c.CourseProgress)
	agent.POST("/courses/:courseId/refresh", c.RefreshCourse)
	agent.POST("/sync", c.Sync)
	return r, c
}

func call(t *testing.T, r *gin.Engine, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if out != nil && w.Code < 300 {
		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return w.Code
}

func TestAgentController_OfflineFlow(t *testing.T) {
	r, _ := newOfflineAgent(t)

	lesson := gin.H{"courseId": 10, "moduleId": 100, "lessonId": 1, "completed": true}
	assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodPost, "/agent/progress", lesson, nil))

	token, err := util.GenerateJWT(3, util.RoleStudent, "secret", time.Hour)
	require.NoError(t, err)

	var signedIn struct {
		UserID uint `json:"userId"`
	}
	require.Equal(t, http.StatusOK, call(t, r, http.MethodPut, "/agent/session", gin.H{"token": "Bearer " + token}, &signedIn))
	assert.Equal(t, uint(3), signedIn.UserID)

	var result service.TrackResult
	require.Equal(t, http.StatusAccepted, call(t, r, http.MethodPost, "/agent/progress", lesson, &result))
	assert.Equal(t, service.OutcomeBuffered, result.Outcome)
	assert.True(t, result.Record.Completed)
	assert.Equal(t, model.LessonCompleted, result.Record.State)

	assert.Equal(t, http.StatusBadRequest, call(t, r, http.MethodPost, "/agent/progress", gin.H{"courseId": 10}, nil))

	var status service.AgentStatus
	require.Equal(t, http.StatusOK, call(t, r, http.MethodGet, "/agent/status", nil, &status))
	assert.True(t, status.SignedIn)
	assert.False(t, status.Online)
	assert.Equal(t, 1, status.PendingSync)

	var summary model.CourseProgressSummary
	require.Equal(t, http.StatusOK, call(t, r, http.MethodGet, "/agent/courses/10/progress", nil, &summary))
	assert.Equal(t, 1, summary.PendingLessons)
	assert.Equal(t, 1, summary.CompletedLessons)

	assert.Equal(t, http.StatusServiceUnavailable, call(t, r, http.MethodPost, "/agent/courses/10/refresh", nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, r, http.MethodGet, "/agent/courses/abc/progress", nil, nil))

	var synced service.SyncResult
	require.Equal(t, http.StatusOK, call(t, r, http.MethodPost, "/agent/sync", nil, &synced))
	assert.Equal(t, 1, synced.Failed)
	assert.Equal(t, 1, synced.Remaining)

	require.Equal(t, http.StatusOK, call(t, r, http.MethodDelete, "/agent/session", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodPost, "/agent/progress", lesson, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodPost, "/agent/sync", nil, nil))
}

func TestAgentController_SignInRejectsMalformedToken(t *testing.T) {
	r, c := newOfflineAgent(t)

	assert.Equal(t, http.StatusBadRequest, call(t, r, http.MethodPut, "/agent/session", gin.H{}, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, r, http.MethodPut, "/agent/session", gin.H{"token": "garbage"}, nil))
	_, ok := c.Session.Current()
	assert.False(t, ok)
}

func TestAgentController_LessonViewing(t *testing.T) {
	r, c := newOfflineAgent(t)

	token, err := util.GenerateJWT(3, util.RoleStudent, "secret", time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, call(t, r, http.MethodPut, "/agent/session", gin.H{"token": token}, nil))

	ref := gin.H{"courseId": 10, "moduleId": 100, "lessonId": 2}
	var result service.TrackResult
	require.Equal(t, http.StatusAccepted, call(t, r, http.MethodPost, "/agent/lessons/open", ref, &result))
	assert.Equal(t, service.OutcomeBuffered, result.Outcome)

	current, ok := c.Viewer.Current()
	require.True(t, ok)
	assert.Equal(t, uint(2), current.LessonID)

	require.Equal(t, http.StatusOK, call(t, r, http.MethodPost, "/agent/lessons/close", nil, nil))
	_, ok = c.Viewer.Current()
	assert.False(t, ok)
}
