package models

import "time"

// EnrollmentStatus represents the lifecycle of a realized seat.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPendingPayment EnrollmentStatus = "PENDING_PAYMENT"
	EnrollmentStatusActive         EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCompleted      EnrollmentStatus = "COMPLETED"
	EnrollmentStatusTerminated     EnrollmentStatus = "TERMINATED"
	EnrollmentStatusSuspended      EnrollmentStatus = "SUSPENDED"
)

// PaymentStatus tracks the money side of an enrollment.
type PaymentStatus string

const (
	PaymentStatusNotRequired PaymentStatus = "NOT_REQUIRED"
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusCompleted   PaymentStatus = "COMPLETED"
	PaymentStatusWaived      PaymentStatus = "WAIVED"
	PaymentStatusFailed      PaymentStatus = "FAILED"
)

// Enrollment is one applicant's realized seat in one cohort. Created exactly
// once per (applicant, cohort) pair at approval time; re-approval reuses the
// existing row.
type Enrollment struct {
	ID            string  `db:"id" json:"id"`
	ApplicationID string  `db:"application_id" json:"application_id"`
	Email         string  `db:"email" json:"email"`
	CourseID      string  `db:"course_id" json:"course_id"`
	CohortID      *string `db:"cohort_id" json:"cohort_id,omitempty"`

	Status          EnrollmentStatus `db:"status" json:"status"`
	PaymentStatus   PaymentStatus    `db:"payment_status" json:"payment_status"`
	PaymentVerified bool             `db:"payment_verified" json:"payment_verified"`

	MigratedFromCohortID *string `db:"migrated_from_cohort_id" json:"migrated_from_cohort_id,omitempty"`

	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CountsForCapacity reports whether this enrollment occupies a seat. Only
// terminated and suspended enrollments free their seat.
func (e *Enrollment) CountsForCapacity() bool {
	return e.Status != EnrollmentStatusTerminated && e.Status != EnrollmentStatusSuspended
}

// AccessDecision is the outcome of a content-access check.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Access decision reasons.
const (
	AccessReasonActive              = "enrollment active"
	AccessReasonNotActive           = "enrollment not active"
	AccessReasonTerminated          = "enrollment terminated or suspended"
	AccessReasonPaymentVerified     = "payment verified"
	AccessReasonPendingVerification = "payment received, pending verification"
	AccessReasonPaymentRequired     = "payment required"
	AccessReasonNoCohort            = "enrollment has no resolvable cohort"
)
