package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/student-management-api/internal/service"
	appErrors "github.com/opencampus/student-management-api/pkg/errors"
	"github.com/opencampus/student-management-api/pkg/response"
)

// ExportJobHandler exposes asynchronous roster export endpoints.
type ExportJobHandler struct {
	exports *service.ExportJobService
}

// NewExportJobHandler constructs ExportJobHandler.
func NewExportJobHandler(exports *service.ExportJobService) *ExportJobHandler {
	return &ExportJobHandler{exports: exports}
}

type createExportJobRequest struct {
	Format string `json:"format"`
}

// Create godoc
// @Summary Queue a roster export job
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body createExportJobRequest true "Export format"
// @Success 202 {object} response.Envelope
// @Router /admin/export/jobs [post]
func (h *ExportJobHandler) Create(c *gin.Context) {
	var req createExportJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.exports.CreateJob(c.Request.Context(), req.Format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Status godoc
// @Summary Get export job status
// @Tags Admin
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /admin/export/jobs/{id} [get]
func (h *ExportJobHandler) Status(c *gin.Context) {
	job, err := h.exports.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished export via signed token
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Router /export/{token} [get]
func (h *ExportJobHandler) Download(c *gin.Context) {
	download, err := h.exports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	contentType := "text/csv"
	if download.Format == service.ExportFormatPDF {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.DataFromReader(http.StatusOK, info.Size(), contentType, download.File, nil)
}
