package controller

import (
	"coder_edu_progress/internal/offline"
	"coder_edu_progress/internal/service"
	"coder_edu_progress/internal/util"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AgentController 进度代理的本地接口，界面通过它追踪进度而不直接访问后端
type AgentController struct {
	Session    *service.Session
	Tracker    *service.ProgressTracker
	Viewer     *service.LessonViewer
	Reconciler *service.SyncReconciler
	Aggregator *service.CourseProgressAggregator
	Queue      *offline.Queue
	Status     *service.StatusBoard
	Hub        *service.StatusHub
}

// respondTracked 已写入后端返回 200，进入离线队列返回 202
func respondTracked(ctx *gin.Context, result *service.TrackResult) {
	if result.Outcome == service.OutcomeBuffered {
		util.Accepted(ctx, result)
		return
	}
	util.Success(ctx, result)
}

// TrackProgress 追踪一次进度事件，返回 synced 或 buffered
func (c *AgentController) TrackProgress(ctx *gin.Context) {
	var req service.TrackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Tracker.TrackProgress(ctx.Request.Context(), req)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	respondTracked(ctx, result)
}

func (c *AgentController) OpenLesson(ctx *gin.Context) {
	var ref service.LessonRef
	if err := ctx.ShouldBindJSON(&ref); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Viewer.Open(ctx.Request.Context(), ref)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	respondTracked(ctx, result)
}

func (c *AgentController) CloseLesson(ctx *gin.Context) {
	c.Viewer.Close()
	util.Success(ctx, nil)
}

func (c *AgentController) CompleteLesson(ctx *gin.Context) {
	var ref service.LessonRef
	if err := ctx.ShouldBindJSON(&ref); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Viewer.Complete(ctx.Request.Context(), ref)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	respondTracked(ctx, result)
}

// CourseProgress 返回内存中的课程进度，首次访问时从后端加载
func (c *AgentController) CourseProgress(ctx *gin.Context) {
	ident, ok := c.Session.Current()
	if !ok {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := util.ParseID(ctx.Param("courseId"))
	if !ok {
		util.BadRequest(ctx, "invalid course id")
		return
	}

	summary := c.Aggregator.Summary(ident.UserID, courseID)
	if summary.TotalLessons == 0 {
		// 尚未加载过该课程，后端不可达时返回本地视图
		if recomputed, err := c.Aggregator.Recompute(ctx.Request.Context(), ident.UserID, courseID, c.Queue.Pending(ident.UserID, courseID)); err == nil {
			summary = recomputed
		}
	}

	util.Success(ctx, summary)
}

// RefreshCourse 以后端数据为准重新计算课程进度
func (c *AgentController) RefreshCourse(ctx *gin.Context) {
	ident, ok := c.Session.Current()
	if !ok {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := util.ParseID(ctx.Param("courseId"))
	if !ok {
		util.BadRequest(ctx, "invalid course id")
		return
	}

	reqCtx := ctx.Request.Context()
	summary, err := c.Aggregator.Recompute(reqCtx, ident.UserID, courseID, c.Queue.Pending(ident.UserID, courseID))
	if err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Backend unavailable")
		return
	}
	summary = c.Aggregator.CheckCompletion(reqCtx, ident.UserID, summary)
	c.Status.Notify(&summary)

	util.Success(ctx, summary)
}

// Sync 手动触发一次同步
func (c *AgentController) Sync(ctx *gin.Context) {
	result, err := c.Reconciler.Reconcile(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

func (c *AgentController) GetStatus(ctx *gin.Context) {
	util.Success(ctx, c.Status.Snapshot())
}

type signInRequest struct {
	Token string `json:"token" binding:"required"`
}

// SignIn 设置当前用户的 token，进度代理不负责登录流程
func (c *AgentController) SignIn(ctx *gin.Context) {
	var req signInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	ident, err := c.Session.SignIn(strings.TrimPrefix(req.Token, "Bearer "))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	c.Status.Notify(nil)

	// 登录后若有该用户的离线记录且已在线，立即同步
	c.Reconciler.OnConnectivityChange(c.Status.Snapshot().Online)

	util.Success(ctx, gin.H{"userId": ident.UserID})
}

func (c *AgentController) SignOut(ctx *gin.Context) {
	c.Viewer.Close()
	c.Session.SignOut()
	c.Status.Notify(nil)
	util.Success(ctx, nil)
}

// StatusStream WebSocket 推送状态和课程进度变化
func (c *AgentController) StatusStream(ctx *gin.Context) {
	initial := service.StatusEvent{Type: service.EventStatus, Status: c.Status.Snapshot()}
	c.Hub.ServeWs(ctx.Writer, ctx.Request, initial)
}
