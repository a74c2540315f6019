package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
)

type stubEnrollmentStore struct {
	enrollments map[string]*models.Enrollment
	payments    []repository.UpdatePaymentParams
	cohortRefs  map[string]string
}

func (s *stubEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := s.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentStore) FindByApplicationID(ctx context.Context, applicationID string) (*models.Enrollment, error) {
	for _, e := range s.enrollments {
		if e.ApplicationID == applicationID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentStore) UpdatePayment(ctx context.Context, params repository.UpdatePaymentParams) error {
	e, ok := s.enrollments[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	s.payments = append(s.payments, params)
	e.PaymentStatus = params.PaymentStatus
	e.PaymentVerified = params.PaymentVerified
	if params.PromoteToActive && e.Status == models.EnrollmentStatusPendingPayment {
		e.Status = models.EnrollmentStatusActive
	}
	return nil
}

func (s *stubEnrollmentStore) UpdateCohortRef(ctx context.Context, id, cohortID string) error {
	if s.cohortRefs == nil {
		s.cohortRefs = make(map[string]string)
	}
	s.cohortRefs[id] = cohortID
	return nil
}

func paidCohort(id string) *models.Cohort {
	return &models.Cohort{ID: id, CourseID: "course-1", EnrollmentType: models.EnrollmentTypePaid, Price: 199, Currency: "USD"}
}

func newPaymentFixture(enrollments *stubEnrollmentStore, apps *stubApplicationRepo, cohorts *stubCohortRepo) (*PaymentService, *stubNotifier) {
	notify := &stubNotifier{}
	svc := NewPaymentService(enrollments, apps, cohorts, nil, notify, nil, nil)
	return svc, notify
}

func TestInitialFieldsByCohortTerms(t *testing.T) {
	svc, _ := newPaymentFixture(&stubEnrollmentStore{}, &stubApplicationRepo{}, &stubCohortRepo{})
	full := models.ScholarshipTypeFull
	partial := models.ScholarshipTypePartial

	cases := []struct {
		name     string
		cohort   *models.Cohort
		status   models.EnrollmentStatus
		payment  models.PaymentStatus
		verified bool
	}{
		{"no cohort", nil, models.EnrollmentStatusActive, models.PaymentStatusNotRequired, true},
		{"free", &models.Cohort{EnrollmentType: models.EnrollmentTypeFree}, models.EnrollmentStatusActive, models.PaymentStatusNotRequired, true},
		{"paid", paidCohort("c1"), models.EnrollmentStatusPendingPayment, models.PaymentStatusPending, false},
		{"full scholarship", &models.Cohort{EnrollmentType: models.EnrollmentTypeScholarship, ScholarshipType: &full}, models.EnrollmentStatusActive, models.PaymentStatusNotRequired, true},
		{"partial scholarship", &models.Cohort{EnrollmentType: models.EnrollmentTypeScholarship, ScholarshipType: &partial}, models.EnrollmentStatusPendingPayment, models.PaymentStatusPending, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payment, verified := svc.InitialFields(tc.cohort)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.payment, payment)
			assert.Equal(t, tc.verified, verified)
		})
	}
}

func TestCheckAccessDeniesTerminatedSeats(t *testing.T) {
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusTerminated},
		"e2": {ID: "e2", Status: models.EnrollmentStatusSuspended},
	}}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, &stubCohortRepo{})

	for _, id := range []string{"e1", "e2"} {
		decision, err := svc.CheckAccess(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.AccessReasonTerminated, decision.Reason)
	}
}

func TestCheckAccessAllowsActiveSeats(t *testing.T) {
	freeCohort := "free-cohort"
	paidID := "paid-cohort"
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"free":     {ID: "free", CohortID: &freeCohort, Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusNotRequired, PaymentVerified: true},
		"paid":     {ID: "paid", CohortID: &paidID, Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusCompleted, PaymentVerified: true},
		"unlinked": {ID: "unlinked", Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusNotRequired, PaymentVerified: true},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{
		freeCohort: {ID: freeCohort, CourseID: "course-1", EnrollmentType: models.EnrollmentTypeFree},
		paidID:     paidCohort(paidID),
	}}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, cohorts)

	decision, err := svc.CheckAccess(context.Background(), "free")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonActive, decision.Reason)

	decision, err = svc.CheckAccess(context.Background(), "paid")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonPaymentVerified, decision.Reason)

	// A seat that never owed anything keeps access even without a cohort link.
	decision, err = svc.CheckAccess(context.Background(), "unlinked")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonActive, decision.Reason)
}

func TestCheckAccessActiveSeatWithUnsettledPayment(t *testing.T) {
	cohortID := "c1"
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"chargeback": {ID: "chargeback", CohortID: &cohortID, Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusFailed},
		"pending":    {ID: "pending", CohortID: &cohortID, Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusPending},
		"unverified": {ID: "unverified", CohortID: &cohortID, Status: models.EnrollmentStatusCompleted, PaymentStatus: models.PaymentStatusCompleted},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{cohortID: paidCohort(cohortID)}}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, cohorts)

	// A failed verification on an already promoted seat revokes access until
	// the payment is verified again.
	for _, id := range []string{"chargeback", "pending"} {
		decision, err := svc.CheckAccess(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.AccessReasonPaymentRequired, decision.Reason)
	}

	decision, err := svc.CheckAccess(context.Background(), "unverified")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonPendingVerification, decision.Reason)
}

func TestCheckAccessPendingPaymentInPaidCohort(t *testing.T) {
	cohortID := "c1"
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"unpaid": {ID: "unpaid", CohortID: &cohortID, Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusPending},
		"failed": {ID: "failed", CohortID: &cohortID, Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusFailed},
		"paid":   {ID: "paid", CohortID: &cohortID, Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusCompleted},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{cohortID: paidCohort(cohortID)}}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, cohorts)

	for _, id := range []string{"unpaid", "failed"} {
		decision, err := svc.CheckAccess(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, models.AccessReasonPaymentRequired, decision.Reason)
	}

	// A recorded but still unverified payment lets the applicant in.
	decision, err := svc.CheckAccess(context.Background(), "paid")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonPendingVerification, decision.Reason)
}

func TestCheckAccessResolvesCohortThroughApplication(t *testing.T) {
	appCohort := "c1"
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", ApplicationID: "app-1", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusPending},
	}}
	apps := &stubApplicationRepo{apps: map[string]*models.Application{
		"app-1": {ID: "app-1", CourseID: "course-1", CohortID: &appCohort},
	}}
	cohorts := &stubCohortRepo{cohorts: map[string]*models.Cohort{appCohort: paidCohort(appCohort)}}
	svc, _ := newPaymentFixture(enrollments, apps, cohorts)

	decision, err := svc.CheckAccess(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonPaymentRequired, decision.Reason)

	// The fallback hit is memoized onto the enrollment.
	assert.Equal(t, appCohort, enrollments.cohortRefs["e1"])
}

func TestCheckAccessFallsBackToLatestCohort(t *testing.T) {
	latest := models.Cohort{ID: "latest", CourseID: "course-1", EnrollmentType: models.EnrollmentTypeFree}
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", ApplicationID: "gone", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment},
	}}
	cohorts := &stubCohortRepo{
		cohorts:  map[string]*models.Cohort{"latest": &latest},
		byCourse: map[string][]models.Cohort{"course-1": {latest}},
	}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, cohorts)

	decision, err := svc.CheckAccess(context.Background(), "e1")
	require.NoError(t, err)
	// A free cohort still only admits ACTIVE or COMPLETED seats.
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonNotActive, decision.Reason)
	assert.Equal(t, "latest", enrollments.cohortRefs["e1"])
}

func TestCheckAccessWithoutResolvableCohort(t *testing.T) {
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", ApplicationID: "gone", CourseID: "course-1", Status: models.EnrollmentStatusPendingPayment},
	}}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, &stubCohortRepo{})

	decision, err := svc.CheckAccess(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.AccessReasonNoCohort, decision.Reason)
}

func TestVerifyPaymentCompletedActivatesSeat(t *testing.T) {
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Email: "jane@example.com", Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusPending},
	}}
	svc, notify := newPaymentFixture(enrollments, &stubApplicationRepo{}, &stubCohortRepo{})

	enrollment, notified, err := svc.VerifyPayment(context.Background(), "e1", dto.VerifyPaymentRequest{Status: "completed"})
	require.NoError(t, err)

	assert.True(t, notified)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, models.PaymentStatusCompleted, enrollment.PaymentStatus)
	assert.True(t, enrollment.PaymentVerified)
	require.Len(t, enrollments.payments, 1)
	assert.True(t, enrollments.payments[0].PromoteToActive)
	require.Len(t, notify.sent, 1)
	assert.Equal(t, models.TemplatePaymentVerified, notify.sent[0].Template)
}

func TestVerifyPaymentWaivedActivatesSeat(t *testing.T) {
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusPending},
	}}
	svc, _ := newPaymentFixture(enrollments, &stubApplicationRepo{}, &stubCohortRepo{})

	enrollment, _, err := svc.VerifyPayment(context.Background(), "e1", dto.VerifyPaymentRequest{Status: "waived"})
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, models.PaymentStatusWaived, enrollment.PaymentStatus)
	assert.True(t, enrollment.PaymentVerified)
}

func TestVerifyPaymentFailedKeepsSeatLocked(t *testing.T) {
	enrollments := &stubEnrollmentStore{enrollments: map[string]*models.Enrollment{
		"e1": {ID: "e1", Status: models.EnrollmentStatusPendingPayment, PaymentStatus: models.PaymentStatusPending},
	}}
	svc, notify := newPaymentFixture(enrollments, &stubApplicationRepo{}, &stubCohortRepo{})

	enrollment, notified, err := svc.VerifyPayment(context.Background(), "e1", dto.VerifyPaymentRequest{Status: "failed"})
	require.NoError(t, err)

	assert.False(t, notified)
	assert.Equal(t, models.EnrollmentStatusPendingPayment, enrollment.Status)
	assert.Equal(t, models.PaymentStatusFailed, enrollment.PaymentStatus)
	assert.False(t, enrollment.PaymentVerified)
	assert.Empty(t, notify.sent)
}

func TestVerifyPaymentValidatesStatus(t *testing.T) {
	svc, _ := newPaymentFixture(&stubEnrollmentStore{}, &stubApplicationRepo{}, &stubCohortRepo{})

	_, _, err := svc.VerifyPayment(context.Background(), "e1", dto.VerifyPaymentRequest{Status: "refunded"})
	require.Error(t, err)
}
