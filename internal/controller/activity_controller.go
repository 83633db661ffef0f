package controller

import (
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/service"
	"coder_edu_progress/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ActivityController struct {
	ActivityService *service.ActivityService
}

func NewActivityController(activityService *service.ActivityService) *ActivityController {
	return &ActivityController{ActivityService: activityService}
}

// @Summary 追加学习活动日志
// @Tags 学习进度
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.ActivityLog true "活动"
// @Success 201 {object} util.Response{data=model.ActivityLog}
// @Router /api/activity [post]
func (c *ActivityController) AppendActivity(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var entry model.ActivityLog
	if err := ctx.ShouldBindJSON(&entry); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	saved, err := c.ActivityService.Append(ctx.Request.Context(), user.UserID, entry)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Created(ctx, saved)
}

// @Summary 最近的学习活动
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Param limit query int false "条数，最多100"
// @Success 200 {object} util.Response{data=[]model.ActivityLog}
// @Router /api/activity [get]
func (c *ActivityController) RecentActivity(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	logs, err := c.ActivityService.Recent(ctx.Request.Context(), user.UserID, limit)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, logs)
}
