package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/service"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
	"github.com/learnhub/admission-api/pkg/response"
)

// ApplicationHandler exposes admission application endpoints.
type ApplicationHandler struct {
	admissions  *service.AdmissionService
	migrations  *service.MigrationService
	maxPageSize int
}

// NewApplicationHandler constructs ApplicationHandler.
func NewApplicationHandler(admissions *service.AdmissionService, migrations *service.MigrationService, maxPageSize int) *ApplicationHandler {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &ApplicationHandler{admissions: admissions, migrations: migrations, maxPageSize: maxPageSize}
}

// CreateDraft godoc
// @Summary Save an application draft
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Draft payload"
// @Success 201 {object} response.Envelope
// @Router /applications/drafts [post]
func (h *ApplicationHandler) CreateDraft(c *gin.Context) {
	var req dto.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.admissions.CreateDraft(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, app)
}

// Submit godoc
// @Summary Submit an application
// @Description Finalizes a draft when draft_id is set, otherwise creates the application directly as PENDING.
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req dto.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, notified, err := h.admissions.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, result, nil, notifiedMeta(notified))
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param cohortId query string false "Filter by cohort"
// @Param status query string false "Filter by status"
// @Param highRisk query bool false "Filter by high-risk flag"
// @Param search query string false "Search email or name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "Sort column"
// @Param order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	filter := h.listFilter(c)
	apps, pagination, err := h.admissions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination)
}

// Export godoc
// @Summary Export ranked applications as CSV
// @Tags Applications
// @Produce text/csv
// @Param courseId query string false "Filter by course"
// @Param cohortId query string false "Filter by cohort"
// @Param status query string false "Filter by status"
// @Success 200 {string} string "CSV payload"
// @Router /applications/export [get]
func (h *ApplicationHandler) Export(c *gin.Context) {
	data, err := h.admissions.ExportRanked(c.Request.Context(), h.listFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="applications.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}

func (h *ApplicationHandler) listFilter(c *gin.Context) models.ApplicationFilter {
	var filter models.ApplicationFilter
	filter.CourseID = c.Query("courseId")
	filter.CohortID = c.Query("cohortId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.ApplicationStatus(strings.ToUpper(status))
	}
	if raw := c.Query("highRisk"); raw != "" {
		if highRisk, err := strconv.ParseBool(raw); err == nil {
			filter.HighRisk = &highRisk
		}
	}
	filter.Search = c.Query("search")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	if filter.PageSize > h.maxPageSize {
		filter.PageSize = h.maxPageSize
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	return filter
}

// Get godoc
// @Summary Get one application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	app, err := h.admissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Decide godoc
// @Summary Apply a reviewer decision
// @Description Approves, rejects, or waitlists an application. Approval is capacity-gated.
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.DecideRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/decision [post]
func (h *ApplicationHandler) Decide(c *gin.Context) {
	var req dto.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, notified, err := h.admissions.Decide(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, notifiedMeta(notified))
}

// Recalculate godoc
// @Summary Recompute scores from stored answers
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/recalculate [post]
func (h *ApplicationHandler) Recalculate(c *gin.Context) {
	app, err := h.admissions.Recalculate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Withdraw godoc
// @Summary Withdraw an application
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/withdraw [post]
func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	app, err := h.admissions.Withdraw(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Events godoc
// @Summary List an application's migration trail
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/migrations [get]
func (h *ApplicationHandler) Events(c *gin.Context) {
	events, err := h.migrations.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}
