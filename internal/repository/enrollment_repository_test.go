package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/admission-api/internal/models"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
)

func enrollmentRows(e models.Enrollment) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "application_id", "email", "course_id", "cohort_id",
		"status", "payment_status", "payment_verified", "migrated_from_cohort_id", "enrolled_at", "updated_at"}).
		AddRow(e.ID, e.ApplicationID, e.Email, e.CourseID, nullable(e.CohortID),
			e.Status, e.PaymentStatus, e.PaymentVerified, nullable(e.MigratedFromCohortID), e.EnrolledAt, e.UpdatedAt)
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM enrollments WHERE id = \$1`).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows(models.Enrollment{
			ID: "enr-1", ApplicationID: "app-1", Email: "jane@example.com", CourseID: "course-1",
			Status: models.EnrollmentStatusActive, PaymentStatus: models.PaymentStatusNotRequired,
			PaymentVerified: true, EnrolledAt: now, UpdatedAt: now,
		}))

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", enrollment.ApplicationID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApproveCreatesSeat(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	maxStudents := 30
	cohort := &models.Cohort{ID: "cohort-1", CourseID: "course-1", MaxStudents: &maxStudents}
	app := &models.Application{ID: "app-1", Email: "jane@example.com", CourseID: "course-1"}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM enrollments WHERE application_id = \$1 FOR UPDATE`).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM cohorts WHERE id = $1 FOR UPDATE`)).
		WithArgs("cohort-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cohort-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments WHERE cohort_id = \$1`).
		WithArgs("cohort-1", models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE applications SET status").
		WithArgs("app-1", models.ApplicationStatusPending, models.ApplicationStatusApproved,
			nil, sqlmock.AnyArg(), "cohort-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE cohorts SET enrolled_count").
		WithArgs("cohort-1", models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment, err := repo.Approve(context.Background(), ApproveParams{
		Application:      app,
		FromStatus:       models.ApplicationStatusPending,
		Cohort:           cohort,
		EnrollmentStatus: models.EnrollmentStatusPendingPayment,
		PaymentStatus:    models.PaymentStatusPending,
		DecidedAt:        time.Now(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPendingPayment, enrollment.Status)
	require.NotNil(t, enrollment.CohortID)
	assert.Equal(t, "cohort-1", *enrollment.CohortID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApproveRejectsFullCohort(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	maxStudents := 10
	cohort := &models.Cohort{ID: "cohort-1", CourseID: "course-1", MaxStudents: &maxStudents}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM enrollments WHERE application_id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM cohorts WHERE id = $1 FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cohort-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM enrollments`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), ApproveParams{
		Application: &models.Application{ID: "app-1", CourseID: "course-1"},
		FromStatus:  models.ApplicationStatusPending,
		Cohort:      cohort,
		DecidedAt:   time.Now(),
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrCohortFull))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdatePaymentPromotes(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollments SET payment_status").
		WithArgs("enr-1", models.PaymentStatusCompleted, true, true,
			models.EnrollmentStatusPendingPayment, models.EnrollmentStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdatePayment(context.Background(), UpdatePaymentParams{
		ID:              "enr-1",
		PaymentStatus:   models.PaymentStatusCompleted,
		PaymentVerified: true,
		PromoteToActive: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateCohortRef(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE enrollments SET cohort_id").
		WithArgs("enr-1", "cohort-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateCohortRef(context.Background(), "enr-1", "cohort-2")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
