package dto

import "github.com/learnhub/admission-api/internal/models"

// SubmitApplicationRequest either finalizes an existing draft (DraftID set)
// or creates the application directly as PENDING.
type SubmitApplicationRequest struct {
	DraftID string `json:"draft_id,omitempty"`

	Email    string `json:"email" validate:"required_without=DraftID,omitempty,email"`
	FullName string `json:"full_name" validate:"required_without=DraftID"`
	CourseID string `json:"course_id" validate:"required_without=DraftID"`
	CohortID string `json:"cohort_id,omitempty"`

	Country           string   `json:"country"`
	City              string   `json:"city"`
	EducationLevel    string   `json:"education_level"`
	EmploymentStatus  string   `json:"employment_status"`
	HasComputer       bool     `json:"has_computer"`
	InternetAccess    string   `json:"internet_access" validate:"omitempty,oneof=none mobile public limited home"`
	SkillLevel        string   `json:"skill_level" validate:"omitempty,oneof=never_used beginner intermediate advanced"`
	PriorTasks        []string `json:"prior_tasks"`
	HasOnlineLearning bool     `json:"has_online_learning"`
	Motivation        string   `json:"motivation"`
	LearningOutcomes  string   `json:"learning_outcomes"`
	CareerImpact      string   `json:"career_impact"`
	Availability      []string `json:"availability"`
	Committed         bool     `json:"committed"`
	AgreesAssessments bool     `json:"agrees_assessments"`
	PreferredMode     string   `json:"preferred_mode"`

	PaymentMethod    string  `json:"payment_method,omitempty"`
	PaymentState     string  `json:"payment_state,omitempty"`
	PaymentReference string  `json:"payment_reference,omitempty"`
	PaymentAmount    float64 `json:"payment_amount,omitempty"`
	PaymentCurrency  string  `json:"payment_currency,omitempty"`
}

// SubmitApplicationResponse echoes the stored record with its scores.
type SubmitApplicationResponse struct {
	Application *models.Application    `json:"application"`
	Scores      models.ScoreComponents `json:"scores"`
}

// Decision actions accepted by the decide endpoint.
const (
	DecisionActionApprove  = "approve"
	DecisionActionReject   = "reject"
	DecisionActionWaitlist = "waitlist"
)

// DecideRequest carries a reviewer's decision for one application.
type DecideRequest struct {
	Action   string `json:"action" validate:"required,oneof=approve reject waitlist"`
	Reason   string `json:"reason,omitempty"`
	CohortID string `json:"cohort_id,omitempty"`
}

// DecisionResponse reports the resulting status and, on approval, the
// enrollment. Meta carries non-fatal notification outcomes.
type DecisionResponse struct {
	Application *models.Application `json:"application"`
	Enrollment  *models.Enrollment  `json:"enrollment,omitempty"`
}

// VerifyPaymentRequest updates an enrollment's payment status through the
// single authoritative verification path.
type VerifyPaymentRequest struct {
	Status string `json:"status" validate:"required,oneof=completed waived pending failed"`
}
