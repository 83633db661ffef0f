package controller

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/service"
	"coder_edu_progress/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	ProgressService *service.ProgressService
}

func NewProgressController(progressService *service.ProgressService) *ProgressController {
	return &ProgressController{ProgressService: progressService}
}

// @Summary 查询课时进度
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param lessonId path int true "课时ID"
// @Success 200 {object} util.Response{data=model.ProgressRecord}
// @Failure 404 {object} util.Response
// @Router /api/progress/lessons/{lessonId} [get]
func (c *ProgressController) FindProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	lessonID, ok := util.ParseID(ctx.Param("lessonId"))
	if !ok {
		util.BadRequest(ctx, "invalid lesson id")
		return
	}

	rec, err := c.ProgressService.Find(ctx.Request.Context(), user.UserID, lessonID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if rec == nil {
		util.NotFound(ctx)
		return
	}

	util.Success(ctx, rec)
}

// @Summary 上报课时进度
// @Description 按 (用户, 课时) 查找并合并，不存在则创建；重复的事件ID不会重复累计
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.ProgressUpdate true "进度事件"
// @Success 200 {object} util.Response{data=model.ProgressRecord}
// @Router /api/progress [put]
func (c *ProgressController) UpsertProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var upd model.ProgressUpdate
	if err := ctx.ShouldBindJSON(&upd); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	upd.UserID = user.UserID

	rec, err := c.ProgressService.Upsert(ctx.Request.Context(), upd)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, rec)
}

// @Summary 课程下的课时进度列表
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=[]model.ProgressRecord}
// @Router /api/progress/courses/{courseId} [get]
func (c *ProgressController) ListCourseProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID, ok := util.ParseID(ctx.Param("courseId"))
	if !ok {
		util.BadRequest(ctx, "invalid course id")
		return
	}

	records, err := c.ProgressService.ListByCourse(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if records == nil {
		records = []model.ProgressRecord{}
	}

	util.Success(ctx, records)
}

// @Summary 课程的课时目录
// @Tags 课程
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=[]int}
// @Router /api/courses/{courseId}/lessons [get]
func (c *ProgressController) ListLessons(ctx *gin.Context) {
	courseID, ok := util.ParseID(ctx.Param("courseId"))
	if !ok {
		util.BadRequest(ctx, "invalid course id")
		return
	}

	ids, err := c.ProgressService.ListLessons(ctx.Request.Context(), courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, ids)
}

// @Summary 清除课时目录缓存
// @Description 课程的课时增删后调用
// @Tags 课程
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/admin/courses/{courseId}/catalog-cache [delete]
func (c *ProgressController) InvalidateCatalog(ctx *gin.Context) {
	courseID, ok := util.ParseID(ctx.Param("courseId"))
	if !ok {
		util.BadRequest(ctx, "invalid course id")
		return
	}

	if err := c.ProgressService.InvalidateCatalog(ctx.Request.Context(), courseID); err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}
