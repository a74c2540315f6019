package models

import (
	"time"

	"github.com/lib/pq"
)

// ApplicationStatus represents the lifecycle of an admission application.
type ApplicationStatus string

// Possible application statuses.
const (
	ApplicationStatusDraft      ApplicationStatus = "DRAFT"
	ApplicationStatusPending    ApplicationStatus = "PENDING"
	ApplicationStatusApproved   ApplicationStatus = "APPROVED"
	ApplicationStatusRejected   ApplicationStatus = "REJECTED"
	ApplicationStatusWaitlisted ApplicationStatus = "WAITLISTED"
	ApplicationStatusWithdrawn  ApplicationStatus = "WITHDRAWN"
)

// Internet access levels self-reported by applicants.
const (
	InternetAccessNone    = "none"
	InternetAccessMobile  = "mobile"
	InternetAccessPublic  = "public"
	InternetAccessLimited = "limited"
	InternetAccessHome    = "home"
)

// Skill ladder for the primary tool self-assessment.
const (
	SkillLevelNeverUsed    = "never_used"
	SkillLevelBeginner     = "beginner"
	SkillLevelIntermediate = "intermediate"
	SkillLevelAdvanced     = "advanced"
)

// Application is one applicant's submission for one course. The natural key
// for duplicate detection is (email, course_id) over non-draft records.
type Application struct {
	ID       string `db:"id" json:"id"`
	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"full_name"`
	CourseID string `db:"course_id" json:"course_id"`

	// Submitted answers.
	Country           string         `db:"country" json:"country"`
	City              string         `db:"city" json:"city"`
	EducationLevel    string         `db:"education_level" json:"education_level"`
	EmploymentStatus  string         `db:"employment_status" json:"employment_status"`
	HasComputer       bool           `db:"has_computer" json:"has_computer"`
	InternetAccess    string         `db:"internet_access" json:"internet_access"`
	SkillLevel        string         `db:"skill_level" json:"skill_level"`
	PriorTasks        pq.StringArray `db:"prior_tasks" json:"prior_tasks"`
	HasOnlineLearning bool           `db:"has_online_learning" json:"has_online_learning"`
	Motivation        string         `db:"motivation" json:"motivation"`
	LearningOutcomes  string         `db:"learning_outcomes" json:"learning_outcomes"`
	CareerImpact      string         `db:"career_impact" json:"career_impact"`
	Availability      pq.StringArray `db:"availability" json:"availability"`
	Committed         bool           `db:"committed" json:"committed"`
	AgreesAssessments bool           `db:"agrees_assessments" json:"agrees_assessments"`
	PreferredMode     string         `db:"preferred_mode" json:"preferred_mode"`

	// Payment snapshot captured from the flow preceding submission. This is
	// independent of the Enrollment's own payment state.
	PaymentMethod    *string  `db:"payment_method" json:"payment_method,omitempty"`
	PaymentState     *string  `db:"payment_state" json:"payment_state,omitempty"`
	PaymentReference *string  `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentAmount    *float64 `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentCurrency  *string  `db:"payment_currency" json:"payment_currency,omitempty"`

	// Derived scores, recomputed deterministically and never hand-edited.
	RiskScore        float64 `db:"risk_score" json:"risk_score"`
	IsHighRisk       bool    `db:"is_high_risk" json:"is_high_risk"`
	ReadinessScore   float64 `db:"readiness_score" json:"readiness_score"`
	CommitmentScore  float64 `db:"commitment_score" json:"commitment_score"`
	ApplicationScore float64 `db:"application_score" json:"application_score"`
	FinalRankScore   float64 `db:"final_rank_score" json:"final_rank_score"`

	Status ApplicationStatus `db:"status" json:"status"`

	// Cohort linkage with a denormalised snapshot taken at submission time.
	CohortID          *string    `db:"cohort_id" json:"cohort_id,omitempty"`
	CohortLabel       *string    `db:"cohort_label" json:"cohort_label,omitempty"`
	CohortStartsAt    *time.Time `db:"cohort_starts_at" json:"cohort_starts_at,omitempty"`
	CohortEndsAt      *time.Time `db:"cohort_ends_at" json:"cohort_ends_at,omitempty"`
	OriginalCohortID  *string    `db:"original_cohort_id" json:"original_cohort_id,omitempty"`
	MigratedToCohort  *string    `db:"migrated_to_cohort_id" json:"migrated_to_cohort_id,omitempty"`
	MigratedAt        *time.Time `db:"migrated_at" json:"migrated_at,omitempty"`

	DecisionReason *string    `db:"decision_reason" json:"decision_reason,omitempty"`
	DecidedAt      *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ScoreComponents groups the derived sub-scores with the composite rank.
type ScoreComponents struct {
	Risk        float64 `json:"risk_score"`
	IsHighRisk  bool    `json:"is_high_risk"`
	Readiness   float64 `json:"readiness_score"`
	Commitment  float64 `json:"commitment_score"`
	Application float64 `json:"application_score"`
	FinalRank   float64 `json:"final_rank_score"`
}

// Scores returns the application's current score components.
func (a *Application) Scores() ScoreComponents {
	return ScoreComponents{
		Risk:        a.RiskScore,
		IsHighRisk:  a.IsHighRisk,
		Readiness:   a.ReadinessScore,
		Commitment:  a.CommitmentScore,
		Application: a.ApplicationScore,
		FinalRank:   a.FinalRankScore,
	}
}

// ApplicationFilter provides filters for listing applications. Drafts are
// excluded unless IncludeDrafts is set.
type ApplicationFilter struct {
	CourseID      string
	CohortID      string
	Status        ApplicationStatus
	HighRisk      *bool
	Search        string
	IncludeDrafts bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
