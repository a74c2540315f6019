package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/service"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
	"github.com/learnhub/admission-api/pkg/response"
)

// EnrollmentHandler exposes enrollment and payment-gate endpoints.
type EnrollmentHandler struct {
	payments *service.PaymentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(payments *service.PaymentService) *EnrollmentHandler {
	return &EnrollmentHandler{payments: payments}
}

// Get godoc
// @Summary Get one enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// CheckAccess godoc
// @Summary Check course-content access for an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/access [get]
func (h *EnrollmentHandler) CheckAccess(c *gin.Context) {
	decision, err := h.payments.CheckAccess(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// VerifyPayment godoc
// @Summary Record a payment verification outcome
// @Description Completed and waived outcomes activate a seat waiting on payment.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.VerifyPaymentRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/payment [post]
func (h *EnrollmentHandler) VerifyPayment(c *gin.Context) {
	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, notified, err := h.payments.VerifyPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil, notifiedMeta(notified))
}
