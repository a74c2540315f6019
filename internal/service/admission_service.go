package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
	"github.com/learnhub/admission-api/pkg/export"
)

type applicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	ExistsNonDraft(ctx context.Context, email, courseID, excludeID string) (bool, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error)
	UpdateAnswersAndScores(ctx context.Context, app *models.Application) error
	UpdateScores(ctx context.Context, app *models.Application) error
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
}

type enrollmentApprover interface {
	FindByApplicationID(ctx context.Context, applicationID string) (*models.Enrollment, error)
	Approve(ctx context.Context, params repository.ApproveParams) (*models.Enrollment, error)
}

type notifier interface {
	Notify(recipient string, template models.NotificationTemplate, data map[string]string) bool
}

type paymentPolicy interface {
	InitialFields(cohort *models.Cohort) (models.EnrollmentStatus, models.PaymentStatus, bool)
}

type decisionRecorder interface {
	RecordDecision(action string, outcome string)
}

// Legal status transitions. Withdrawing an approved application requires the
// separate enrollment-termination path owned by course management.
var allowedTransitions = map[models.ApplicationStatus][]models.ApplicationStatus{
	models.ApplicationStatusDraft:      {models.ApplicationStatusPending, models.ApplicationStatusWithdrawn},
	models.ApplicationStatusPending:    {models.ApplicationStatusApproved, models.ApplicationStatusRejected, models.ApplicationStatusWaitlisted, models.ApplicationStatusWithdrawn},
	models.ApplicationStatusRejected:   {models.ApplicationStatusApproved, models.ApplicationStatusWithdrawn},
	models.ApplicationStatusWaitlisted: {models.ApplicationStatusApproved, models.ApplicationStatusPending, models.ApplicationStatusWithdrawn},
	models.ApplicationStatusWithdrawn:  {models.ApplicationStatusApproved},
	models.ApplicationStatusApproved:   {},
}

func canTransition(from, to models.ApplicationStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AdmissionService runs the admission state machine: submissions, reviewer
// decisions, recalculation, and withdrawal.
type AdmissionService struct {
	apps        applicationStore
	enrollments enrollmentApprover
	cohorts     cohortReader
	scores      *ScoreEngine
	capacity    *CapacityService
	payments    paymentPolicy
	notify      notifier
	metrics     decisionRecorder
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAdmissionService constructs the service.
func NewAdmissionService(
	apps applicationStore,
	enrollments enrollmentApprover,
	cohorts cohortReader,
	scores *ScoreEngine,
	capacity *CapacityService,
	payments paymentPolicy,
	notify notifier,
	metrics decisionRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		apps:        apps,
		enrollments: enrollments,
		cohorts:     cohorts,
		scores:      scores,
		capacity:    capacity,
		payments:    payments,
		notify:      notify,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *AdmissionService) WithClock(now func() time.Time) *AdmissionService {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateDraft stores an incomplete application without running duplicate
// detection or scoring. Drafts never show up in admission listings.
func (s *AdmissionService) CreateDraft(ctx context.Context, req dto.SubmitApplicationRequest) (*models.Application, error) {
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.CourseID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email and course_id are required")
	}
	app := s.applicationFromRequest(req)
	app.Status = models.ApplicationStatusDraft
	if err := s.linkCohort(ctx, app, req.CohortID); err != nil {
		return nil, err
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create draft")
	}
	return app, nil
}

// Submit finalizes a draft or creates a new application directly as PENDING,
// running the score engine either way. The notified flag reports whether the
// confirmation notification was queued.
func (s *AdmissionService) Submit(ctx context.Context, req dto.SubmitApplicationRequest) (*dto.SubmitApplicationResponse, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	var app *models.Application
	if req.DraftID != "" {
		existing, err := s.apps.FindByID(ctx, req.DraftID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, false, appErrors.Clone(appErrors.ErrNotFound, "draft not found")
			}
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft")
		}
		if existing.Status != models.ApplicationStatusDraft {
			return nil, false, appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("application is %s, only drafts can be submitted", existing.Status))
		}
		s.applyAnswers(existing, req)
		app = existing
	} else {
		app = s.applicationFromRequest(req)
		if err := s.linkCohort(ctx, app, req.CohortID); err != nil {
			return nil, false, err
		}
	}

	duplicate, err := s.apps.ExistsNonDraft(ctx, app.Email, app.CourseID, app.ID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicates")
	}
	if duplicate {
		return nil, false, appErrors.ErrDuplicateApplication
	}

	scores := s.scores.Evaluate(app)
	submittedAt := s.now().UTC()
	app.SubmittedAt = &submittedAt

	if req.DraftID != "" {
		if err := s.apps.UpdateAnswersAndScores(ctx, app); err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store answers")
		}
		err := s.apps.UpdateStatus(ctx, repository.UpdateStatusParams{
			ID:          app.ID,
			FromStatus:  models.ApplicationStatusDraft,
			ToStatus:    models.ApplicationStatusPending,
			SubmittedAt: &submittedAt,
		})
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, false, appErrors.ErrPersistenceConflict
			}
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit draft")
		}
		app.Status = models.ApplicationStatusPending
	} else {
		app.Status = models.ApplicationStatusPending
		if err := s.apps.Create(ctx, app); err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
		}
	}

	notified := s.send(app.Email, models.TemplateApplicationReceived, map[string]string{
		"application_id": app.ID,
		"course_id":      app.CourseID,
	})
	return &dto.SubmitApplicationResponse{Application: app, Scores: scores}, notified, nil
}

// Decide applies a reviewer decision. Approval is capacity-gated and creates
// or reuses the enrollment; reject and waitlist only mutate status, reason,
// and timestamp.
func (s *AdmissionService) Decide(ctx context.Context, id string, req dto.DecideRequest, actor string) (*dto.DecisionResponse, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}

	switch req.Action {
	case dto.DecisionActionApprove:
		return s.approve(ctx, app, req)
	case dto.DecisionActionReject:
		return s.decline(ctx, app, models.ApplicationStatusRejected, req.Reason, models.TemplateApplicationRejected)
	case dto.DecisionActionWaitlist:
		return s.decline(ctx, app, models.ApplicationStatusWaitlisted, req.Reason, models.TemplateApplicationWaitlist)
	default:
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "unsupported decision action")
	}
}

func (s *AdmissionService) approve(ctx context.Context, app *models.Application, req dto.DecideRequest) (*dto.DecisionResponse, bool, error) {
	cohort, err := s.resolveTargetCohort(ctx, app, req.CohortID)
	if err != nil {
		return nil, false, err
	}

	// Approving an already-approved application with a seat in the same
	// cohort is a no-op returning the existing enrollment.
	if app.Status == models.ApplicationStatusApproved {
		existing, err := s.enrollments.FindByApplicationID(ctx, app.ID)
		if err != nil && err != sql.ErrNoRows {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if existing != nil && (cohort == nil || (existing.CohortID != nil && *existing.CohortID == cohort.ID)) {
			s.record("approve", "noop")
			return &dto.DecisionResponse{Application: app, Enrollment: existing}, false, nil
		}
	}

	if app.Status != models.ApplicationStatusApproved && !canTransition(app.Status, models.ApplicationStatusApproved) {
		return nil, false, transitionError(app.Status, models.ApplicationStatusApproved)
	}

	status, paymentStatus, verified := s.payments.InitialFields(cohort)
	var reason *string
	if trimmed := strings.TrimSpace(req.Reason); trimmed != "" {
		reason = &trimmed
	}

	enrollment, err := s.enrollments.Approve(ctx, repository.ApproveParams{
		Application:      app,
		FromStatus:       app.Status,
		Cohort:           cohort,
		EnrollmentStatus: status,
		PaymentStatus:    paymentStatus,
		PaymentVerified:  verified,
		Reason:           reason,
		DecidedAt:        s.now(),
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrCohortFull) {
			s.record("approve", "cohort_full")
			return nil, false, err
		}
		if appErrors.Is(err, appErrors.ErrPersistenceConflict) {
			return nil, false, err
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve application")
	}

	app.Status = models.ApplicationStatusApproved
	if cohort != nil {
		s.capacity.InvalidateCapacity(ctx, cohort.ID)
	}
	s.record("approve", "approved")

	notified := s.send(app.Email, models.TemplateApplicationApproved, map[string]string{
		"application_id": app.ID,
		"enrollment_id":  enrollment.ID,
	})
	return &dto.DecisionResponse{Application: app, Enrollment: enrollment}, notified, nil
}

func (s *AdmissionService) decline(ctx context.Context, app *models.Application, to models.ApplicationStatus, reason string, template models.NotificationTemplate) (*dto.DecisionResponse, bool, error) {
	if !canTransition(app.Status, to) {
		return nil, false, transitionError(app.Status, to)
	}

	decidedAt := s.now().UTC()
	var reasonPtr *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		reasonPtr = &trimmed
	}
	err := s.apps.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:         app.ID,
		FromStatus: app.Status,
		ToStatus:   to,
		Reason:     reasonPtr,
		DecidedAt:  &decidedAt,
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.ErrPersistenceConflict
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
	}

	app.Status = to
	app.DecisionReason = reasonPtr
	app.DecidedAt = &decidedAt
	s.record(strings.ToLower(string(to)), "done")

	notified := s.send(app.Email, template, map[string]string{"application_id": app.ID})
	return &dto.DecisionResponse{Application: app}, notified, nil
}

// Withdraw marks the application withdrawn. Approved applications must go
// through enrollment termination instead.
func (s *AdmissionService) Withdraw(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !canTransition(app.Status, models.ApplicationStatusWithdrawn) {
		return nil, transitionError(app.Status, models.ApplicationStatusWithdrawn)
	}
	decidedAt := s.now().UTC()
	err = s.apps.UpdateStatus(ctx, repository.UpdateStatusParams{
		ID:         app.ID,
		FromStatus: app.Status,
		ToStatus:   models.ApplicationStatusWithdrawn,
		DecidedAt:  &decidedAt,
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrPersistenceConflict
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw application")
	}
	app.Status = models.ApplicationStatusWithdrawn
	return app, nil
}

// Recalculate re-runs the score engine over the stored answers. This is the
// only sanctioned score mutation after approval.
func (s *AdmissionService) Recalculate(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	s.scores.Evaluate(app)
	if err := s.apps.UpdateScores(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store scores")
	}
	return app, nil
}

// List returns applications with pagination metadata. Drafts stay hidden
// unless the filter explicitly includes them.
func (s *AdmissionService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error) {
	apps, total, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return apps, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ExportRanked renders the filtered applications as CSV, best-ranked first.
// Pagination in the filter is ignored; every matching record is included.
func (s *AdmissionService) ExportRanked(ctx context.Context, filter models.ApplicationFilter) ([]byte, error) {
	filter.SortBy = "final_rank"
	filter.SortOrder = "DESC"
	filter.Page = 1
	filter.PageSize = 100

	dataset := export.Dataset{Headers: []string{
		"id", "email", "full_name", "course_id", "cohort", "status",
		"risk_score", "high_risk", "readiness_score", "commitment_score",
		"application_score", "final_rank_score", "submitted_at",
	}}
	for {
		apps, total, err := s.apps.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
		}
		for i := range apps {
			dataset.Rows = append(dataset.Rows, exportRow(&apps[i]))
		}
		if len(apps) == 0 || len(dataset.Rows) >= total {
			break
		}
		filter.Page++
	}
	return export.NewCSVExporter().Render(dataset)
}

func exportRow(app *models.Application) []string {
	cohort := ""
	if app.CohortLabel != nil {
		cohort = *app.CohortLabel
	} else if app.CohortID != nil {
		cohort = *app.CohortID
	}
	submittedAt := ""
	if app.SubmittedAt != nil {
		submittedAt = app.SubmittedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		app.ID, app.Email, app.FullName, app.CourseID, cohort, string(app.Status),
		fmt.Sprintf("%.2f", app.RiskScore), strconv.FormatBool(app.IsHighRisk),
		fmt.Sprintf("%.2f", app.ReadinessScore), fmt.Sprintf("%.2f", app.CommitmentScore),
		fmt.Sprintf("%.2f", app.ApplicationScore), fmt.Sprintf("%.2f", app.FinalRankScore),
		submittedAt,
	}
}

// Get returns one application.
func (s *AdmissionService) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return app, nil
}

func (s *AdmissionService) resolveTargetCohort(ctx context.Context, app *models.Application, explicitID string) (*models.Cohort, error) {
	load := func(id string) (*models.Cohort, error) {
		cohort, err := s.cohorts.FindByID(ctx, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
		}
		return cohort, nil
	}

	if explicitID != "" {
		cohort, err := load(explicitID)
		if err != nil {
			return nil, err
		}
		if cohort.CourseID != app.CourseID {
			return nil, appErrors.ErrCourseMismatch
		}
		return cohort, nil
	}
	if app.CohortID != nil {
		return load(*app.CohortID)
	}
	if app.CohortLabel != nil && *app.CohortLabel != "" {
		cohort, err := s.cohorts.FindByLabelAndCourse(ctx, *app.CohortLabel, app.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve cohort by label")
		}
		return cohort, nil
	}
	return nil, nil
}

func (s *AdmissionService) linkCohort(ctx context.Context, app *models.Application, cohortID string) error {
	if cohortID == "" {
		return nil
	}
	cohort, err := s.cohorts.FindByID(ctx, cohortID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}
	if cohort.CourseID != app.CourseID {
		return appErrors.ErrCourseMismatch
	}
	app.CohortID = &cohort.ID
	app.CohortLabel = &cohort.Label
	starts, ends := cohort.StartsAt, cohort.EndsAt
	app.CohortStartsAt = &starts
	app.CohortEndsAt = &ends
	return nil
}

func (s *AdmissionService) applicationFromRequest(req dto.SubmitApplicationRequest) *models.Application {
	app := &models.Application{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		FullName: strings.TrimSpace(req.FullName),
		CourseID: req.CourseID,
	}
	s.applyAnswers(app, req)
	return app
}

func (s *AdmissionService) applyAnswers(app *models.Application, req dto.SubmitApplicationRequest) {
	if req.FullName != "" {
		app.FullName = strings.TrimSpace(req.FullName)
	}
	app.Country = req.Country
	app.City = req.City
	app.EducationLevel = req.EducationLevel
	app.EmploymentStatus = req.EmploymentStatus
	app.HasComputer = req.HasComputer
	app.InternetAccess = req.InternetAccess
	app.SkillLevel = req.SkillLevel
	app.PriorTasks = pq.StringArray(append([]string(nil), req.PriorTasks...))
	app.HasOnlineLearning = req.HasOnlineLearning
	app.Motivation = req.Motivation
	app.LearningOutcomes = req.LearningOutcomes
	app.CareerImpact = req.CareerImpact
	app.Availability = pq.StringArray(append([]string(nil), req.Availability...))
	app.Committed = req.Committed
	app.AgreesAssessments = req.AgreesAssessments
	app.PreferredMode = req.PreferredMode

	if req.PaymentMethod != "" {
		app.PaymentMethod = &req.PaymentMethod
	}
	if req.PaymentState != "" {
		app.PaymentState = &req.PaymentState
	}
	if req.PaymentReference != "" {
		app.PaymentReference = &req.PaymentReference
	}
	if req.PaymentAmount != 0 {
		app.PaymentAmount = &req.PaymentAmount
	}
	if req.PaymentCurrency != "" {
		app.PaymentCurrency = &req.PaymentCurrency
	}
}

func (s *AdmissionService) send(recipient string, template models.NotificationTemplate, data map[string]string) bool {
	if s.notify == nil {
		return false
	}
	return s.notify.Notify(recipient, template, data)
}

func (s *AdmissionService) record(action, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordDecision(action, outcome)
	}
}

func transitionError(from, to models.ApplicationStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition,
		fmt.Sprintf("cannot transition application from %s to %s", from, to))
}
