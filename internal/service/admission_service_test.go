package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
)

type stubApplicationRepo struct {
	apps          map[string]*models.Application
	duplicate     bool
	created       *models.Application
	answersSaved  *models.Application
	scoresSaved   *models.Application
	statusUpdates []repository.UpdateStatusParams
	statusErr     error
	waitlisted    []models.Application
}

func (s *stubApplicationRepo) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = "app-created"
	}
	if s.apps == nil {
		s.apps = make(map[string]*models.Application)
	}
	s.apps[app.ID] = app
	s.created = app
	return nil
}

func (s *stubApplicationRepo) FindByID(ctx context.Context, id string) (*models.Application, error) {
	if app, ok := s.apps[id]; ok {
		copied := *app
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubApplicationRepo) ExistsNonDraft(ctx context.Context, email, courseID, excludeID string) (bool, error) {
	return s.duplicate, nil
}

func (s *stubApplicationRepo) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	var out []models.Application
	for _, app := range s.apps {
		if app.Status == models.ApplicationStatusDraft && !filter.IncludeDrafts {
			continue
		}
		out = append(out, *app)
	}
	return out, len(out), nil
}

func (s *stubApplicationRepo) UpdateAnswersAndScores(ctx context.Context, app *models.Application) error {
	s.answersSaved = app
	return nil
}

func (s *stubApplicationRepo) UpdateScores(ctx context.Context, app *models.Application) error {
	s.scoresSaved = app
	return nil
}

func (s *stubApplicationRepo) UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	s.statusUpdates = append(s.statusUpdates, params)
	if app, ok := s.apps[params.ID]; ok {
		app.Status = params.ToStatus
	}
	return nil
}

func (s *stubApplicationRepo) ListWaitlistedForMigration(ctx context.Context, courseID string, sourceCohortID *string) ([]models.Application, error) {
	return append([]models.Application(nil), s.waitlisted...), nil
}

type stubEnrollmentApprover struct {
	existing   *models.Enrollment
	approveErr error
	approved   *repository.ApproveParams
}

func (s *stubEnrollmentApprover) FindByApplicationID(ctx context.Context, applicationID string) (*models.Enrollment, error) {
	if s.existing != nil && s.existing.ApplicationID == applicationID {
		copied := *s.existing
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentApprover) Approve(ctx context.Context, params repository.ApproveParams) (*models.Enrollment, error) {
	if s.approveErr != nil {
		return nil, s.approveErr
	}
	s.approved = &params
	enrollment := &models.Enrollment{
		ID:              "enroll-1",
		ApplicationID:   params.Application.ID,
		Email:           params.Application.Email,
		CourseID:        params.Application.CourseID,
		Status:          params.EnrollmentStatus,
		PaymentStatus:   params.PaymentStatus,
		PaymentVerified: params.PaymentVerified,
		EnrolledAt:      params.DecidedAt,
	}
	if params.Cohort != nil {
		id := params.Cohort.ID
		enrollment.CohortID = &id
	}
	return enrollment, nil
}

type stubNotifier struct {
	sent []models.Notification
	fail bool
}

func (s *stubNotifier) Notify(recipient string, template models.NotificationTemplate, data map[string]string) bool {
	if s.fail {
		return false
	}
	s.sent = append(s.sent, models.Notification{Recipient: recipient, Template: template, Data: data})
	return true
}

type stubPaymentPolicy struct {
	status   models.EnrollmentStatus
	payment  models.PaymentStatus
	verified bool
}

func (s *stubPaymentPolicy) InitialFields(cohort *models.Cohort) (models.EnrollmentStatus, models.PaymentStatus, bool) {
	return s.status, s.payment, s.verified
}

type stubDecisionRecorder struct {
	decisions map[string]int
}

func (s *stubDecisionRecorder) RecordDecision(action, outcome string) {
	if s.decisions == nil {
		s.decisions = make(map[string]int)
	}
	s.decisions[action+"/"+outcome]++
}

func newAdmissionFixture(apps *stubApplicationRepo, enrollments *stubEnrollmentApprover, cohorts *stubCohortRepo) (*AdmissionService, *stubNotifier, *stubDecisionRecorder) {
	notify := &stubNotifier{}
	metrics := &stubDecisionRecorder{}
	capacity := NewCapacityService(cohorts, nil, 0, nil)
	policy := &stubPaymentPolicy{status: models.EnrollmentStatusActive, payment: models.PaymentStatusNotRequired, verified: true}
	svc := NewAdmissionService(apps, enrollments, cohorts, NewScoreEngine(), capacity, policy, notify, metrics, nil, nil)
	return svc, notify, metrics
}

func submitRequest() dto.SubmitApplicationRequest {
	return dto.SubmitApplicationRequest{
		Email:             "jane@example.com",
		FullName:          "Jane Doe",
		CourseID:          "course-1",
		Country:           "Kenya",
		HasComputer:       true,
		InternetAccess:    models.InternetAccessHome,
		SkillLevel:        models.SkillLevelIntermediate,
		Motivation:        "I want to build a tech career.",
		Committed:         true,
		AgreesAssessments: true,
	}
}

func TestSubmitCreatesPendingApplicationWithScores(t *testing.T) {
	apps := &stubApplicationRepo{}
	svc, notify, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	result, notified, err := svc.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	assert.True(t, notified)
	assert.Equal(t, models.ApplicationStatusPending, result.Application.Status)
	assert.NotNil(t, result.Application.SubmittedAt)
	assert.Greater(t, result.Scores.FinalRank, 0.0)
	require.Len(t, notify.sent, 1)
	assert.Equal(t, models.TemplateApplicationReceived, notify.sent[0].Template)
	assert.Equal(t, "jane@example.com", notify.sent[0].Recipient)
	require.NotNil(t, apps.created)
	assert.Equal(t, apps.created.FinalRankScore, result.Scores.FinalRank)
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	apps := &stubApplicationRepo{duplicate: true}
	svc, notify, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	_, _, err := svc.Submit(context.Background(), submitRequest())

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateApplication))
	assert.Empty(t, notify.sent)
	assert.Nil(t, apps.created)
}

func TestSubmitFinalizesDraft(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"draft-1": {ID: "draft-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusDraft},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	req := submitRequest()
	req.DraftID = "draft-1"
	result, _, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationStatusPending, result.Application.Status)
	require.NotNil(t, apps.answersSaved)
	require.Len(t, apps.statusUpdates, 1)
	assert.Equal(t, models.ApplicationStatusDraft, apps.statusUpdates[0].FromStatus)
	assert.Equal(t, models.ApplicationStatusPending, apps.statusUpdates[0].ToStatus)
	assert.NotNil(t, apps.statusUpdates[0].SubmittedAt)
	assert.Nil(t, apps.created)
}

func TestSubmitRejectsNonDraftFinalization(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	req := submitRequest()
	req.DraftID = "app-1"
	_, _, err := svc.Submit(context.Background(), req)

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestSubmitDraftConflictSurfacesAsPersistenceConflict(t *testing.T) {
	apps := &stubApplicationRepo{
		apps: map[string]*models.Application{
			"draft-1": {ID: "draft-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusDraft},
		},
		statusErr: sql.ErrNoRows,
	}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	req := submitRequest()
	req.DraftID = "draft-1"
	_, _, err := svc.Submit(context.Background(), req)

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPersistenceConflict))
}

func TestDecideApproveCreatesEnrollment(t *testing.T) {
	cohortID := "cohort-1"
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending, CohortID: &cohortID},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{
		cohortID: {ID: cohortID, CourseID: "course-1", Label: "2025-Q3", MaxStudents: intPtr(30)},
	}}
	enrollments := &stubEnrollmentApprover{}
	svc, notify, metrics := newAdmissionFixture(apps, enrollments, cohorts)

	result, notified, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionApprove}, "admin-1")
	require.NoError(t, err)

	assert.True(t, notified)
	assert.Equal(t, models.ApplicationStatusApproved, result.Application.Status)
	require.NotNil(t, result.Enrollment)
	assert.Equal(t, models.EnrollmentStatusActive, result.Enrollment.Status)
	require.NotNil(t, enrollments.approved)
	assert.Equal(t, models.ApplicationStatusPending, enrollments.approved.FromStatus)
	require.NotNil(t, enrollments.approved.Cohort)
	assert.Equal(t, cohortID, enrollments.approved.Cohort.ID)
	assert.Equal(t, 1, metrics.decisions["approve/approved"])
	require.Len(t, notify.sent, 1)
	assert.Equal(t, models.TemplateApplicationApproved, notify.sent[0].Template)
}

func TestDecideApprovePropagatesCohortFull(t *testing.T) {
	cohortID := "cohort-1"
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending, CohortID: &cohortID},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{
		cohortID: {ID: cohortID, CourseID: "course-1", MaxStudents: intPtr(1)},
	}}
	enrollments := &stubEnrollmentApprover{approveErr: appErrors.ErrCohortFull}
	svc, notify, metrics := newAdmissionFixture(apps, enrollments, cohorts)

	_, _, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionApprove}, "admin-1")

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCohortFull))
	assert.Equal(t, 1, metrics.decisions["approve/cohort_full"])
	assert.Empty(t, notify.sent)
}

func TestDecideApproveRejectsCourseMismatch(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{
		"other": {ID: "other", CourseID: "course-2"},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, cohorts)

	_, _, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionApprove, CohortID: "other"}, "admin-1")

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCourseMismatch))
}

func TestDecideApproveIsIdempotentForSameCohort(t *testing.T) {
	cohortID := "cohort-1"
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusApproved, CohortID: &cohortID},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{
		cohortID: {ID: cohortID, CourseID: "course-1"},
	}}
	enrollments := &stubEnrollmentApprover{existing: &models.Enrollment{
		ID:            "enroll-1",
		ApplicationID: "app-1",
		CohortID:      &cohortID,
		Status:        models.EnrollmentStatusActive,
	}}
	svc, notify, _ := newAdmissionFixture(apps, enrollments, cohorts)

	result, notified, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionApprove}, "admin-1")
	require.NoError(t, err)

	assert.False(t, notified)
	assert.Equal(t, "enroll-1", result.Enrollment.ID)
	assert.Nil(t, enrollments.approved)
	assert.Empty(t, notify.sent)
}

func TestDecideRejectRecordsReason(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending},
	}}
	svc, notify, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	result, _, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionReject, Reason: "incomplete answers"}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationStatusRejected, result.Application.Status)
	require.NotNil(t, result.Application.DecisionReason)
	assert.Equal(t, "incomplete answers", *result.Application.DecisionReason)
	require.Len(t, apps.statusUpdates, 1)
	assert.Equal(t, models.ApplicationStatusRejected, apps.statusUpdates[0].ToStatus)
	require.Len(t, notify.sent, 1)
	assert.Equal(t, models.TemplateApplicationRejected, notify.sent[0].Template)
}

func TestDecideRejectsIllegalTransitions(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusApproved},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	_, _, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionReject}, "admin-1")

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestDecideWaitlistNotifies(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "jane@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending},
	}}
	svc, notify, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	result, _, err := svc.Decide(context.Background(), "app-1", dto.DecideRequest{Action: dto.DecisionActionWaitlist}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationStatusWaitlisted, result.Application.Status)
	require.Len(t, notify.sent, 1)
	assert.Equal(t, models.TemplateApplicationWaitlist, notify.sent[0].Template)
}

func TestWithdrawBlocksApprovedApplications(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"pending":  {ID: "pending", Email: "a@example.com", CourseID: "course-1", Status: models.ApplicationStatusPending},
		"approved": {ID: "approved", Email: "b@example.com", CourseID: "course-1", Status: models.ApplicationStatusApproved},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	app, err := svc.Withdraw(context.Background(), "pending")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusWithdrawn, app.Status)

	_, err = svc.Withdraw(context.Background(), "approved")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestRecalculateRewritesScores(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {
			ID: "app-1", Email: "jane@example.com", CourseID: "course-1",
			Status: models.ApplicationStatusApproved, HasComputer: true,
			InternetAccess: models.InternetAccessHome, SkillLevel: models.SkillLevelAdvanced,
			FinalRankScore: 1.0,
		},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	app, err := svc.Recalculate(context.Background(), "app-1")
	require.NoError(t, err)

	assert.NotEqual(t, 1.0, app.FinalRankScore)
	require.NotNil(t, apps.scoresSaved)
	assert.Equal(t, app.FinalRankScore, apps.scoresSaved.FinalRankScore)
}

func TestSubmitValidatesPayload(t *testing.T) {
	svc, _, _ := newAdmissionFixture(&stubApplicationRepo{}, &stubEnrollmentApprover{}, &stubCohortRepo{})

	_, _, err := svc.Submit(context.Background(), dto.SubmitApplicationRequest{Email: "not-an-email", FullName: "x", CourseID: "c"})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCreateDraftLinksCohortSnapshot(t *testing.T) {
	starts := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{
		"cohort-1": {ID: "cohort-1", CourseID: "course-1", Label: "2025-Q3", StartsAt: starts, EndsAt: starts.AddDate(0, 3, 0)},
	}}
	apps := &stubApplicationRepo{}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, cohorts)

	req := submitRequest()
	req.CohortID = "cohort-1"
	draft, err := svc.CreateDraft(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationStatusDraft, draft.Status)
	require.NotNil(t, draft.CohortLabel)
	assert.Equal(t, "2025-Q3", *draft.CohortLabel)
	require.NotNil(t, draft.CohortStartsAt)
	assert.Equal(t, starts, *draft.CohortStartsAt)
}

func TestExportRankedRendersCSV(t *testing.T) {
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", Email: "top@example.com", FullName: "Top Applicant",
			CourseID: "course-1", Status: models.ApplicationStatusPending, FinalRankScore: 91.5},
		"app-2": {ID: "app-2", Email: "next@example.com", FullName: "Next Applicant",
			CourseID: "course-1", Status: models.ApplicationStatusWaitlisted, FinalRankScore: 77},
	}}
	svc, _, _ := newAdmissionFixture(apps, &stubEnrollmentApprover{}, &stubCohortRepo{})

	data, err := svc.ExportRanked(context.Background(), models.ApplicationFilter{CourseID: "course-1"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,email,full_name,course_id,cohort,status,risk_score,high_risk,readiness_score,commitment_score,application_score,final_rank_score,submitted_at", lines[0])
	assert.Contains(t, string(data), "top@example.com")
	assert.Contains(t, string(data), "91.50")
}
