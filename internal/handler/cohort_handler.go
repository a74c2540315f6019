package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/service"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
	"github.com/learnhub/admission-api/pkg/response"
)

// CohortHandler exposes cohort read endpoints.
type CohortHandler struct {
	capacity *service.CapacityService
}

// NewCohortHandler constructs CohortHandler.
func NewCohortHandler(capacity *service.CapacityService) *CohortHandler {
	return &CohortHandler{capacity: capacity}
}

type cohortView struct {
	*models.Cohort
	Status models.CohortStatus `json:"status"`
}

// List godoc
// @Summary List a course's cohorts
// @Tags Cohorts
// @Produce json
// @Param courseId query string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /cohorts [get]
func (h *CohortHandler) List(c *gin.Context) {
	courseID := c.Query("courseId")
	if courseID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courseId is required"))
		return
	}
	cohorts, err := h.capacity.CohortsForCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]cohortView, len(cohorts))
	for i := range cohorts {
		views[i] = cohortView{Cohort: &cohorts[i], Status: h.capacity.Status(&cohorts[i])}
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Get godoc
// @Summary Get one cohort
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cohorts/{id} [get]
func (h *CohortHandler) Get(c *gin.Context) {
	cohort, err := h.capacity.Cohort(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cohortView{Cohort: cohort, Status: h.capacity.Status(cohort)}, nil)
}

// Capacity godoc
// @Summary Get a cohort's seat usage
// @Tags Cohorts
// @Produce json
// @Param id path string true "Cohort ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /cohorts/{id}/capacity [get]
func (h *CohortHandler) Capacity(c *gin.Context) {
	summary, err := h.capacity.Capacity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
