package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
)

type enrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByApplicationID(ctx context.Context, applicationID string) (*models.Enrollment, error)
	UpdatePayment(ctx context.Context, params repository.UpdatePaymentParams) error
	UpdateCohortRef(ctx context.Context, id, cohortID string) error
}

type applicationFinder interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
}

type verificationRecorder interface {
	RecordPaymentVerification(status string)
}

// PaymentService owns the payment gate: initial enrollment payment fields at
// approval time, content-access checks, and the single verification write
// path.
type PaymentService struct {
	enrollments enrollmentStore
	apps        applicationFinder
	cohorts     cohortReader
	metrics     verificationRecorder
	notify      notifier
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewPaymentService constructs the service.
func NewPaymentService(
	enrollments enrollmentStore,
	apps applicationFinder,
	cohorts cohortReader,
	metrics verificationRecorder,
	notify notifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		enrollments: enrollments,
		apps:        apps,
		cohorts:     cohorts,
		metrics:     metrics,
		notify:      notify,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// InitialFields derives a new enrollment's status and payment fields from the
// cohort's terms. Without a cohort, or in a free or fully-funded cohort, the
// seat activates immediately.
func (s *PaymentService) InitialFields(cohort *models.Cohort) (models.EnrollmentStatus, models.PaymentStatus, bool) {
	if cohort == nil || !cohort.RequiresPayment() {
		return models.EnrollmentStatusActive, models.PaymentStatusNotRequired, true
	}
	return models.EnrollmentStatusPendingPayment, models.PaymentStatusPending, false
}

// Get returns one enrollment.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// CheckAccess decides whether the enrollment currently grants course-content
// access. The decision is advisory metadata for the content service; it never
// mutates payment state.
func (s *PaymentService) CheckAccess(ctx context.Context, enrollmentID string) (*models.AccessDecision, error) {
	enrollment, err := s.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	switch enrollment.Status {
	case models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended:
		return &models.AccessDecision{Allowed: false, Reason: models.AccessReasonTerminated}, nil
	case models.EnrollmentStatusActive, models.EnrollmentStatusCompleted, models.EnrollmentStatusPendingPayment:
		return s.decideByCohortTerms(ctx, enrollment)
	default:
		return &models.AccessDecision{Allowed: false, Reason: models.AccessReasonNotActive}, nil
	}
}

// decideByCohortTerms applies the resolved cohort's payment terms. The rules
// hold regardless of enrollment status: an ACTIVE seat whose payment later
// failed loses access until it is verified again.
func (s *PaymentService) decideByCohortTerms(ctx context.Context, enrollment *models.Enrollment) (*models.AccessDecision, error) {
	cohort, err := s.resolveCohort(ctx, enrollment)
	if err != nil {
		return nil, err
	}
	if cohort == nil {
		// Seats that never owed anything keep access without a cohort link.
		if enrollment.Status != models.EnrollmentStatusPendingPayment &&
			(enrollment.PaymentVerified || enrollment.PaymentStatus == models.PaymentStatusNotRequired) {
			return &models.AccessDecision{Allowed: true, Reason: models.AccessReasonActive}, nil
		}
		return &models.AccessDecision{Allowed: false, Reason: models.AccessReasonNoCohort}, nil
	}
	if !cohort.RequiresPayment() {
		// A non-charging cohort grants access only to ACTIVE or COMPLETED
		// seats; a PENDING_PAYMENT one is still awaiting the verification
		// that promotes it.
		if enrollment.Status == models.EnrollmentStatusPendingPayment {
			return &models.AccessDecision{Allowed: false, Reason: models.AccessReasonNotActive}, nil
		}
		return &models.AccessDecision{Allowed: true, Reason: models.AccessReasonActive}, nil
	}
	if enrollment.PaymentVerified {
		return &models.AccessDecision{Allowed: true, Reason: models.AccessReasonPaymentVerified}, nil
	}
	// A recorded payment grants access ahead of the admin verification
	// that will promote the seat.
	if enrollment.PaymentStatus == models.PaymentStatusCompleted || enrollment.PaymentStatus == models.PaymentStatusWaived {
		return &models.AccessDecision{Allowed: true, Reason: models.AccessReasonPendingVerification}, nil
	}
	return &models.AccessDecision{Allowed: false, Reason: models.AccessReasonPaymentRequired}, nil
}

// VerifyPayment records a verification outcome. This is the only write path
// for payment_verified; completed and waived outcomes promote a seat waiting
// on payment to ACTIVE. The notified flag reports whether the applicant
// notification was queued.
func (s *PaymentService) VerifyPayment(ctx context.Context, enrollmentID string, req dto.VerifyPaymentRequest) (*models.Enrollment, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	enrollment, err := s.Get(ctx, enrollmentID)
	if err != nil {
		return nil, false, err
	}

	var status models.PaymentStatus
	verified := false
	switch req.Status {
	case "completed":
		status, verified = models.PaymentStatusCompleted, true
	case "waived":
		status, verified = models.PaymentStatusWaived, true
	case "pending":
		status = models.PaymentStatusPending
	case "failed":
		status = models.PaymentStatusFailed
	default:
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "unsupported payment status")
	}

	err = s.enrollments.UpdatePayment(ctx, repository.UpdatePaymentParams{
		ID:              enrollment.ID,
		PaymentStatus:   status,
		PaymentVerified: verified,
		PromoteToActive: verified,
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
	}

	enrollment.PaymentStatus = status
	enrollment.PaymentVerified = verified
	if verified && enrollment.Status == models.EnrollmentStatusPendingPayment {
		enrollment.Status = models.EnrollmentStatusActive
	}
	if s.metrics != nil {
		s.metrics.RecordPaymentVerification(req.Status)
	}

	notified := false
	if verified && s.notify != nil {
		notified = s.notify.Notify(enrollment.Email, models.TemplatePaymentVerified, map[string]string{
			"enrollment_id": enrollment.ID,
		})
	}
	return enrollment, notified, nil
}

// resolveCohort finds the cohort an enrollment belongs to: the direct link,
// then the application's cohort link, then its cohort label, then the latest
// cohort for the course. A fallback hit is memoized back onto the enrollment.
func (s *PaymentService) resolveCohort(ctx context.Context, enrollment *models.Enrollment) (*models.Cohort, error) {
	if enrollment.CohortID != nil {
		cohort, err := s.cohorts.FindByID(ctx, *enrollment.CohortID)
		if err == nil {
			return cohort, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
		}
	}

	cohort, err := s.resolveFromApplication(ctx, enrollment)
	if err != nil {
		return nil, err
	}
	if cohort == nil {
		cohort, err = s.latestForCourse(ctx, enrollment.CourseID)
		if err != nil {
			return nil, err
		}
	}
	if cohort != nil {
		if err := s.enrollments.UpdateCohortRef(ctx, enrollment.ID, cohort.ID); err != nil {
			s.logger.Sugar().Warnw("failed to memoize enrollment cohort",
				"enrollment_id", enrollment.ID, "cohort_id", cohort.ID, "error", err)
		} else {
			enrollment.CohortID = &cohort.ID
		}
	}
	return cohort, nil
}

func (s *PaymentService) resolveFromApplication(ctx context.Context, enrollment *models.Enrollment) (*models.Cohort, error) {
	app, err := s.apps.FindByID(ctx, enrollment.ApplicationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if app.CohortID != nil {
		cohort, err := s.cohorts.FindByID(ctx, *app.CohortID)
		if err == nil {
			return cohort, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
		}
	}
	if app.CohortLabel != nil && *app.CohortLabel != "" {
		cohort, err := s.cohorts.FindByLabelAndCourse(ctx, *app.CohortLabel, enrollment.CourseID)
		if err == nil {
			return cohort, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve cohort by label")
		}
	}
	return nil, nil
}

func (s *PaymentService) latestForCourse(ctx context.Context, courseID string) (*models.Cohort, error) {
	cohort, err := s.cohorts.LatestByCourse(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest cohort")
	}
	return cohort, nil
}
