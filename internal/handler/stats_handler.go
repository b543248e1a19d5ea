package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/student-management-api/internal/service"
	"github.com/opencampus/student-management-api/pkg/response"
)

// StatsHandler exposes the aggregate statistics endpoint.
type StatsHandler struct {
	admin *service.AdminService
}

// NewStatsHandler constructs StatsHandler.
func NewStatsHandler(admin *service.AdminService) *StatsHandler {
	return &StatsHandler{admin: admin}
}

// Get godoc
// @Summary Aggregate enrollment statistics
// @Tags Stats
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /stats [get]
func (h *StatsHandler) Get(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
