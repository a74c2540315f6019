package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/learnhub/admission-api/internal/models"
)

const applicationColumns = `id, email, full_name, course_id,
	country, city, education_level, employment_status, has_computer, internet_access,
	skill_level, prior_tasks, has_online_learning, motivation, learning_outcomes,
	career_impact, availability, committed, agrees_assessments, preferred_mode,
	payment_method, payment_state, payment_reference, payment_amount, payment_currency,
	risk_score, is_high_risk, readiness_score, commitment_score, application_score, final_rank_score,
	status, cohort_id, cohort_label, cohort_starts_at, cohort_ends_at,
	original_cohort_id, migrated_to_cohort_id, migrated_at,
	decision_reason, decided_at, submitted_at, created_at, updated_at`

// ApplicationRepository handles persistence of admission applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create persists a new application record.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	if app.Status == "" {
		app.Status = models.ApplicationStatusDraft
	}
	const query = `INSERT INTO applications (id, email, full_name, course_id,
		country, city, education_level, employment_status, has_computer, internet_access,
		skill_level, prior_tasks, has_online_learning, motivation, learning_outcomes,
		career_impact, availability, committed, agrees_assessments, preferred_mode,
		payment_method, payment_state, payment_reference, payment_amount, payment_currency,
		risk_score, is_high_risk, readiness_score, commitment_score, application_score, final_rank_score,
		status, cohort_id, cohort_label, cohort_starts_at, cohort_ends_at,
		original_cohort_id, migrated_to_cohort_id, migrated_at,
		decision_reason, decided_at, submitted_at, created_at, updated_at)
		VALUES (:id, :email, :full_name, :course_id,
		:country, :city, :education_level, :employment_status, :has_computer, :internet_access,
		:skill_level, :prior_tasks, :has_online_learning, :motivation, :learning_outcomes,
		:career_impact, :availability, :committed, :agrees_assessments, :preferred_mode,
		:payment_method, :payment_state, :payment_reference, :payment_amount, :payment_currency,
		:risk_score, :is_high_risk, :readiness_score, :commitment_score, :application_score, :final_rank_score,
		:status, :cohort_id, :cohort_label, :cohort_starts_at, :cohort_ends_at,
		:original_cohort_id, :migrated_to_cohort_id, :migrated_at,
		:decision_reason, :decided_at, :submitted_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// FindByID returns an application by its ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE id = $1`, applicationColumns)
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// ExistsNonDraft checks whether a non-draft application already exists for
// the (email, course) natural key. Drafts never participate in duplicate
// detection.
func (r *ApplicationRepository) ExistsNonDraft(ctx context.Context, email, courseID, excludeID string) (bool, error) {
	query := `SELECT 1 FROM applications WHERE lower(email) = lower($1) AND course_id = $2 AND status <> $3`
	args := []interface{}{email, courseID, models.ApplicationStatusDraft}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check duplicate application: %w", err)
	}
	return true, nil
}

// List returns applications filtered by the provided criteria. Drafts are
// excluded unless the filter asks for them.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, int, error) {
	var conditions []string
	var args []interface{}

	if !filter.IncludeDrafts {
		conditions = append(conditions, fmt.Sprintf("status <> $%d", len(args)+1))
		args = append(args, models.ApplicationStatusDraft)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.CohortID != "" {
		conditions = append(conditions, fmt.Sprintf("cohort_id = $%d", len(args)+1))
		args = append(args, filter.CohortID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.HighRisk != nil {
		conditions = append(conditions, fmt.Sprintf("is_high_risk = $%d", len(args)+1))
		args = append(args, *filter.HighRisk)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR full_name ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "created_at",
		"final_rank": "final_rank_score",
		"risk":       "risk_score",
		"email":      "email",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM applications%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		applicationColumns, clause, orderBy, order, size, offset)

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM applications" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// ListWaitlistedForMigration returns waitlisted applications for a course
// ordered best-ranked first, earliest-submitted winning ties.
func (r *ApplicationRepository) ListWaitlistedForMigration(ctx context.Context, courseID string, sourceCohortID *string) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE course_id = $1 AND status = $2`, applicationColumns)
	args := []interface{}{courseID, models.ApplicationStatusWaitlisted}
	if sourceCohortID != nil {
		query += fmt.Sprintf(" AND cohort_id = $%d", len(args)+1)
		args = append(args, *sourceCohortID)
	}
	query += " ORDER BY final_rank_score DESC, created_at ASC"
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, fmt.Errorf("list waitlisted applications: %w", err)
	}
	return apps, nil
}

// UpdateAnswersAndScores rewrites answer fields and derived scores for one
// application. Status is untouched.
func (r *ApplicationRepository) UpdateAnswersAndScores(ctx context.Context, app *models.Application) error {
	app.UpdatedAt = time.Now().UTC()
	const query = `UPDATE applications SET
		full_name = :full_name, country = :country, city = :city,
		education_level = :education_level, employment_status = :employment_status,
		has_computer = :has_computer, internet_access = :internet_access,
		skill_level = :skill_level, prior_tasks = :prior_tasks,
		has_online_learning = :has_online_learning, motivation = :motivation,
		learning_outcomes = :learning_outcomes, career_impact = :career_impact,
		availability = :availability, committed = :committed,
		agrees_assessments = :agrees_assessments, preferred_mode = :preferred_mode,
		payment_method = :payment_method, payment_state = :payment_state,
		payment_reference = :payment_reference, payment_amount = :payment_amount,
		payment_currency = :payment_currency,
		risk_score = :risk_score, is_high_risk = :is_high_risk,
		readiness_score = :readiness_score, commitment_score = :commitment_score,
		application_score = :application_score, final_rank_score = :final_rank_score,
		updated_at = :updated_at
		WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("update application answers: %w", err)
	}
	return nil
}

// UpdateScores rewrites only the derived score columns.
func (r *ApplicationRepository) UpdateScores(ctx context.Context, app *models.Application) error {
	const query = `UPDATE applications SET risk_score = $2, is_high_risk = $3,
		readiness_score = $4, commitment_score = $5, application_score = $6,
		final_rank_score = $7, updated_at = $8 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, app.ID, app.RiskScore, app.IsHighRisk,
		app.ReadinessScore, app.CommitmentScore, app.ApplicationScore, app.FinalRankScore,
		time.Now().UTC()); err != nil {
		return fmt.Errorf("update application scores: %w", err)
	}
	return nil
}

// UpdateStatusParams holds the values of a status transition write.
type UpdateStatusParams struct {
	ID             string
	FromStatus     models.ApplicationStatus
	ToStatus       models.ApplicationStatus
	Reason         *string
	DecidedAt      *time.Time
	SubmittedAt    *time.Time
	CohortID       *string
	CohortLabel    *string
	CohortStartsAt *time.Time
	CohortEndsAt   *time.Time
}

// UpdateStatus transitions the application status guarded by the expected
// prior status. sql.ErrNoRows signals a concurrent transition.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	const query = `UPDATE applications SET status = $3, decision_reason = COALESCE($4, decision_reason),
		decided_at = COALESCE($5, decided_at), submitted_at = COALESCE($6, submitted_at),
		cohort_id = COALESCE($7, cohort_id), cohort_label = COALESCE($8, cohort_label),
		cohort_starts_at = COALESCE($9, cohort_starts_at), cohort_ends_at = COALESCE($10, cohort_ends_at),
		updated_at = $11
		WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, params.ID, params.FromStatus, params.ToStatus,
		params.Reason, params.DecidedAt, params.SubmittedAt,
		params.CohortID, params.CohortLabel, params.CohortStartsAt, params.CohortEndsAt,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
