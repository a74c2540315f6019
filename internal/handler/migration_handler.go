package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/service"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
	"github.com/learnhub/admission-api/pkg/response"
)

// MigrationHandler exposes waitlist migration endpoints.
type MigrationHandler struct {
	migrations *service.MigrationService
}

// NewMigrationHandler constructs MigrationHandler.
func NewMigrationHandler(migrations *service.MigrationService) *MigrationHandler {
	return &MigrationHandler{migrations: migrations}
}

// MigrateOne godoc
// @Summary Migrate one waitlisted application
// @Tags Migrations
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.MigrateApplicationRequest true "Migration payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/migrate [post]
func (h *MigrationHandler) MigrateOne(c *gin.Context) {
	var req dto.MigrateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, notified, err := h.migrations.MigrateOne(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil, notifiedMeta(notified))
}

// Bulk godoc
// @Summary Start a bulk waitlist migration
// @Description Queues a background run that migrates waitlisted applications in rank order until the target cohort fills. Poll the returned job for progress.
// @Tags Migrations
// @Accept json
// @Produce json
// @Param payload body dto.BulkMigrateRequest true "Bulk migration payload"
// @Success 202 {object} response.Envelope
// @Router /migrations/bulk [post]
func (h *MigrationHandler) Bulk(c *gin.Context) {
	var req dto.BulkMigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.migrations.StartBulk(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// Job godoc
// @Summary Poll a bulk migration job
// @Tags Migrations
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /migrations/jobs/{id} [get]
func (h *MigrationHandler) Job(c *gin.Context) {
	job, err := h.migrations.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}
