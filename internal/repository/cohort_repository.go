package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/learnhub/admission-api/internal/models"
)

const cohortColumns = `id, course_id, label, opens_at, closes_at, starts_at, ends_at,
	max_students, enrollment_type, scholarship_type, scholarship_percent, price, currency,
	enrolled_count, created_at, updated_at`

// CohortRepository reads admission windows. Cohorts are created by course
// setup; the admission core only touches the enrolled counter.
type CohortRepository struct {
	db *sqlx.DB
}

// NewCohortRepository constructs the repository.
func NewCohortRepository(db *sqlx.DB) *CohortRepository {
	return &CohortRepository{db: db}
}

// FindByID returns a cohort by its ID.
func (r *CohortRepository) FindByID(ctx context.Context, id string) (*models.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts WHERE id = $1`, cohortColumns)
	var cohort models.Cohort
	if err := r.db.GetContext(ctx, &cohort, query, id); err != nil {
		return nil, err
	}
	return &cohort, nil
}

// FindByLabelAndCourse resolves a cohort from its human label within a
// course. Used by the approval path for applications lacking an explicit
// cohort link.
func (r *CohortRepository) FindByLabelAndCourse(ctx context.Context, label, courseID string) (*models.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts WHERE course_id = $1 AND lower(label) = lower($2)`, cohortColumns)
	var cohort models.Cohort
	if err := r.db.GetContext(ctx, &cohort, query, courseID, label); err != nil {
		return nil, err
	}
	return &cohort, nil
}

// LatestByCourse returns the most recently opening cohort for a course.
func (r *CohortRepository) LatestByCourse(ctx context.Context, courseID string) (*models.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts WHERE course_id = $1 ORDER BY opens_at DESC NULLS LAST LIMIT 1`, cohortColumns)
	var cohort models.Cohort
	if err := r.db.GetContext(ctx, &cohort, query, courseID); err != nil {
		return nil, err
	}
	return &cohort, nil
}

// ListByCourse returns cohorts for a course ordered by open time, earliest
// first. Open-ended cohorts sort last.
func (r *CohortRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM cohorts WHERE course_id = $1 ORDER BY opens_at ASC NULLS LAST, created_at ASC`, cohortColumns)
	var cohorts []models.Cohort
	if err := r.db.SelectContext(ctx, &cohorts, query, courseID); err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	return cohorts, nil
}

// ActiveEnrollmentCount counts seats currently occupied in a cohort,
// excluding terminated and suspended enrollments.
func (r *CohortRepository) ActiveEnrollmentCount(ctx context.Context, cohortID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE cohort_id = $1 AND status NOT IN ($2, $3)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, cohortID,
		models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// RefreshEnrolledCount recomputes the materialized counter from the
// enrollments table and returns the fresh value. Used when the counter is
// suspected stale.
func (r *CohortRepository) RefreshEnrolledCount(ctx context.Context, cohortID string) (int, error) {
	const query = `UPDATE cohorts SET enrolled_count = (
			SELECT COUNT(*) FROM enrollments
			WHERE cohort_id = $1 AND status NOT IN ($2, $3)
		), updated_at = NOW()
		WHERE id = $1
		RETURNING enrolled_count`
	var count int
	if err := r.db.GetContext(ctx, &count, query, cohortID,
		models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("refresh enrolled count: %w", err)
	}
	return count, nil
}
