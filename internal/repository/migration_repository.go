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

// MigrationRepository persists waitlist migrations. Each migration is its
// own transaction so one malformed record cannot roll back a bulk run.
type MigrationRepository struct {
	db *sqlx.DB
}

// NewMigrationRepository constructs the repository.
func NewMigrationRepository(db *sqlx.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// MigrateParams holds the values of one waitlist migration hop.
type MigrateParams struct {
	Application *models.Application
	Target      *models.Cohort
	Actor       string
	Note        string
	MigratedAt  time.Time
}

// Migrate moves one waitlisted application to the target cohort: the target
// row is locked, a seat is reserved logically by re-counting under the lock,
// lineage is stamped (original cohort only once), the status resets to
// PENDING, the cohort snapshot is refreshed, and an audit event is appended.
// Scores are left untouched.
func (r *MigrationRepository) Migrate(ctx context.Context, params MigrateParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	target := params.Target
	const lockQuery = `SELECT id FROM cohorts WHERE id = $1 FOR UPDATE`
	var lockedID string
	if err = tx.GetContext(ctx, &lockedID, lockQuery, target.ID); err != nil {
		return fmt.Errorf("lock target cohort: %w", err)
	}

	if !target.Unlimited() {
		// Seats are consumed by active enrollments plus applications already
		// re-routed into this cohort and awaiting review.
		const countQuery = `SELECT
			(SELECT COUNT(*) FROM enrollments WHERE cohort_id = $1 AND status NOT IN ($2, $3)) +
			(SELECT COUNT(*) FROM applications WHERE cohort_id = $1 AND status = $4)`
		var reserved int
		if err = tx.GetContext(ctx, &reserved, countQuery, target.ID,
			models.EnrollmentStatusTerminated, models.EnrollmentStatusSuspended,
			models.ApplicationStatusPending); err != nil {
			return fmt.Errorf("count reserved seats: %w", err)
		}
		if reserved >= *target.MaxStudents {
			err = appErrors.ErrCohortFull
			return err
		}
	}

	app := params.Application
	migratedAt := params.MigratedAt.UTC()
	const updateQuery = `UPDATE applications SET
		status = $3,
		original_cohort_id = COALESCE(original_cohort_id, cohort_id),
		migrated_to_cohort_id = $4,
		migrated_at = $5,
		cohort_id = $4,
		cohort_label = $6,
		cohort_starts_at = $7,
		cohort_ends_at = $8,
		updated_at = $5
		WHERE id = $1 AND status = $2`
	res, err := tx.ExecContext(ctx, updateQuery, app.ID, models.ApplicationStatusWaitlisted,
		models.ApplicationStatusPending, target.ID, migratedAt,
		target.Label, target.StartsAt, target.EndsAt)
	if err != nil {
		return fmt.Errorf("migrate application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("migrate application: %w", err)
	}
	if affected == 0 {
		err = appErrors.ErrPersistenceConflict
		return err
	}

	event := models.MigrationEvent{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		FromCohortID:  app.CohortID,
		ToCohortID:    target.ID,
		Actor:         params.Actor,
		Note:          params.Note,
		CreatedAt:     migratedAt,
	}
	const eventQuery = `INSERT INTO migration_events (id, application_id, from_cohort_id, to_cohort_id, actor, note, created_at)
		VALUES (:id, :application_id, :from_cohort_id, :to_cohort_id, :actor, :note, :created_at)`
	if _, err = tx.NamedExecContext(ctx, eventQuery, event); err != nil {
		return fmt.Errorf("append migration event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// ListEvents returns an application's migration trail, oldest first.
func (r *MigrationRepository) ListEvents(ctx context.Context, applicationID string) ([]models.MigrationEvent, error) {
	const query = `SELECT id, application_id, from_cohort_id, to_cohort_id, actor, note, created_at
		FROM migration_events WHERE application_id = $1 ORDER BY created_at ASC`
	var events []models.MigrationEvent
	if err := r.db.SelectContext(ctx, &events, query, applicationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("list migration events: %w", err)
	}
	return events, nil
}
