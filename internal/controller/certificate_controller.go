package controller

import (
	"coder_edu_progress/internal/service"
	"coder_edu_progress/internal/util"

	"github.com/gin-gonic/gin"
)

type CertificateController struct {
	CertificateService *service.CertificateService
}

func NewCertificateController(certificateService *service.CertificateService) *CertificateController {
	return &CertificateController{CertificateService: certificateService}
}

// @Summary 查询课程证书
// @Tags 证书
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=model.Certificate}
// @Failure 404 {object} util.Response
// @Router /api/certificates/{courseId} [get]
func (c *CertificateController) GetCertificate(ctx *gin.Context) {
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

	cert, err := c.CertificateService.Get(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if cert == nil {
		util.HandleError(ctx, util.ErrCertificateNotFound)
		return
	}

	util.Success(ctx, cert)
}

// @Summary 颁发课程证书
// @Description 幂等：已颁发时返回已有证书；课程未全部完成时返回 409
// @Tags 证书
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=model.Certificate}
// @Failure 409 {object} util.Response
// @Router /api/certificates/{courseId} [post]
func (c *CertificateController) IssueCertificate(ctx *gin.Context) {
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

	cert, err := c.CertificateService.Issue(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.Success(ctx, cert)
}
