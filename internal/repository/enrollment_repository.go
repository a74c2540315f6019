package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/learnhub/admission-api/internal/models"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
)

const enrollmentColumns = `id, application_id, email, course_id, cohort_id,
	status, payment_status, payment_verified, migrated_from_cohort_id, enrolled_at, updated_at`

// EnrollmentRepository handles persistence of enrollments. The approval path
// runs under a cohort row lock so that concurrent approvals can never exceed
// the capacity bound.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByApplicationID returns the enrollment realized from an application.
func (r *EnrollmentRepository) FindByApplicationID(ctx context.Context, applicationID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE application_id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, applicationID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ApproveParams holds everything the transactional approval write needs.
type ApproveParams struct {
	Application *models.Application
	FromStatus  models.ApplicationStatus
	Cohort      *models.Cohort

	// Initial enrollment fields decided by the payment gate.
	EnrollmentStatus models.EnrollmentStatus
	PaymentStatus    models.PaymentStatus
	PaymentVerified  bool

	Reason    *string
	DecidedAt time.Time
}

// Approve executes the approval as one atomic unit: it locks the target
// cohort row, re-counts active seats, creates or reactivates the enrollment,
// flips the application to APPROVED, and refreshes the materialized counter.
// Returns ErrCohortFull when no seat is available and ErrPersistenceConflict
// when the application was transitioned concurrently.
func (r *EnrollmentRepository) Approve(ctx context.Context, params ApproveParams) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approval transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	app := params.Application

	var existing *models.Enrollment
	existingQuery := fmt.Sprintf(`SELECT %s FROM enrollments WHERE application_id = $1 FOR UPDATE`, enrollmentColumns)
	var found models.Enrollment
	if err = tx.GetContext(ctx, &found, existingQuery, app.ID); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("lock existing enrollment: %w", err)
		}
		err = nil
	} else {
		existing = &found
	}

	if params.Cohort != nil {
		const lockQuery = `SELECT id FROM cohorts WHERE id = $1 FOR UPDATE`
		var lockedID string
		if err = tx.GetContext(ctx, &lockedID, lockQuery, params.Cohort.ID); err != nil {
			return nil, fmt.Errorf("lock cohort: %w", err)
		}

		// Idempotent re-approval: an enrollment already holding a seat in the
		// target cohort is returned untouched.
		if existing != nil && existing.CohortID != nil && *existing.CohortID == params.Cohort.ID && existing.CountsForCapacity() {
			if err = r.approveApplication(ctx, tx, params); err != nil {
				if err == sql.ErrNoRows {
					err = appErrors.ErrPersistenceConflict
				}
				return nil, err
			}
			if err = tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit approval: %w", err)
			}
			return existing, nil
		}

		if !params.Cohort.Unlimited() {
			countQuery := `SELECT COUNT(*) FROM enrollments WHERE cohort_id = $1 AND status NOT IN ($2, $3)`
			countArgs := []interface{}{params.Cohort.ID, models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended}
			if existing != nil {
				countQuery += " AND id <> $4"
				countArgs = append(countArgs, existing.ID)
			}
			var active int
			if err = tx.GetContext(ctx, &active, countQuery, countArgs...); err != nil {
				return nil, fmt.Errorf("count active seats: %w", err)
			}
			if active >= *params.Cohort.MaxStudents {
				err = appErrors.ErrCohortFull
				return nil, err
			}
		}
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.CohortID = cohortIDPtr(params.Cohort)
		existing.Status = params.EnrollmentStatus
		existing.PaymentStatus = params.PaymentStatus
		existing.PaymentVerified = params.PaymentVerified
		existing.UpdatedAt = now
		const reuseQuery = `UPDATE enrollments SET cohort_id = $2, status = $3,
			payment_status = $4, payment_verified = $5, updated_at = $6 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, reuseQuery, existing.ID, existing.CohortID,
			existing.Status, existing.PaymentStatus, existing.PaymentVerified, now); err != nil {
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
		enrollment = existing
	} else {
		enrollment = &models.Enrollment{
			ID:              uuid.NewString(),
			ApplicationID:   app.ID,
			Email:           app.Email,
			CourseID:        app.CourseID,
			CohortID:        cohortIDPtr(params.Cohort),
			Status:          params.EnrollmentStatus,
			PaymentStatus:   params.PaymentStatus,
			PaymentVerified: params.PaymentVerified,
			EnrolledAt:      now,
			UpdatedAt:       now,
		}
		const insertQuery = `INSERT INTO enrollments (id, application_id, email, course_id, cohort_id,
			status, payment_status, payment_verified, migrated_from_cohort_id, enrolled_at, updated_at)
			VALUES (:id, :application_id, :email, :course_id, :cohort_id,
			:status, :payment_status, :payment_verified, :migrated_from_cohort_id, :enrolled_at, :updated_at)`
		if _, err = tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
	}

	if err = r.approveApplication(ctx, tx, params); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrPersistenceConflict
		}
		return nil, err
	}

	if params.Cohort != nil {
		const refreshQuery = `UPDATE cohorts SET enrolled_count = (
			SELECT COUNT(*) FROM enrollments WHERE cohort_id = $1 AND status NOT IN ($2, $3)
		), updated_at = $4 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, refreshQuery, params.Cohort.ID,
			models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended, now); err != nil {
			return nil, fmt.Errorf("refresh enrolled count: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval: %w", err)
	}
	return enrollment, nil
}

func (r *EnrollmentRepository) approveApplication(ctx context.Context, tx *sqlx.Tx, params ApproveParams) error {
	const query = `UPDATE applications SET status = $3, decision_reason = COALESCE($4, decision_reason),
		decided_at = $5, cohort_id = COALESCE($6, cohort_id), updated_at = $5
		WHERE id = $1 AND status = $2`
	res, err := tx.ExecContext(ctx, query, params.Application.ID, params.FromStatus,
		models.ApplicationStatusApproved, params.Reason, params.DecidedAt.UTC(), cohortIDPtr(params.Cohort))
	if err != nil {
		return fmt.Errorf("approve application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve application: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePaymentParams carries the verification write.
type UpdatePaymentParams struct {
	ID              string
	PaymentStatus   models.PaymentStatus
	PaymentVerified bool
	PromoteToActive bool
}

// UpdatePayment applies a payment verification outcome. Promotion flips a
// PENDING_PAYMENT enrollment to ACTIVE in the same statement.
func (r *EnrollmentRepository) UpdatePayment(ctx context.Context, params UpdatePaymentParams) error {
	const query = `UPDATE enrollments SET payment_status = $2, payment_verified = $3,
		status = CASE WHEN $4 AND status = $5 THEN $6 ELSE status END,
		updated_at = $7
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, params.ID, params.PaymentStatus, params.PaymentVerified,
		params.PromoteToActive, models.EnrollmentStatusPendingPayment, models.EnrollmentStatusActive,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment payment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateCohortRef memoizes a resolved cohort back onto the enrollment so the
// fallback chain never re-runs for the same record.
func (r *EnrollmentRepository) UpdateCohortRef(ctx context.Context, id, cohortID string) error {
	const query = `UPDATE enrollments SET cohort_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, cohortID, time.Now().UTC()); err != nil {
		return fmt.Errorf("memoize enrollment cohort: %w", err)
	}
	return nil
}

func cohortIDPtr(cohort *models.Cohort) *string {
	if cohort == nil {
		return nil
	}
	id := cohort.ID
	return &id
}
