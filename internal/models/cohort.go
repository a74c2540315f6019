package models

import "time"

// CohortStatus is derived from wall-clock time against the admission window
// and is never persisted.
type CohortStatus string

const (
	CohortStatusUpcoming CohortStatus = "UPCOMING"
	CohortStatusOpen     CohortStatus = "OPEN"
	CohortStatusClosed   CohortStatus = "CLOSED"
)

// EnrollmentType controls the payment terms of a cohort.
type EnrollmentType string

const (
	EnrollmentTypeFree        EnrollmentType = "FREE"
	EnrollmentTypePaid        EnrollmentType = "PAID"
	EnrollmentTypeScholarship EnrollmentType = "SCHOLARSHIP"
)

// ScholarshipType distinguishes full from partial scholarships.
type ScholarshipType string

const (
	ScholarshipTypeFull    ScholarshipType = "FULL"
	ScholarshipTypePartial ScholarshipType = "PARTIAL"
)

// Cohort is one time-boxed admission cycle for a course. Read-only to the
// admission core except for the materialized enrolled counter.
type Cohort struct {
	ID       string `db:"id" json:"id"`
	CourseID string `db:"course_id" json:"course_id"`
	Label    string `db:"label" json:"label"`

	OpensAt  *time.Time `db:"opens_at" json:"opens_at,omitempty"`
	ClosesAt *time.Time `db:"closes_at" json:"closes_at,omitempty"`
	StartsAt time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt   time.Time  `db:"ends_at" json:"ends_at"`

	MaxStudents        *int             `db:"max_students" json:"max_students,omitempty"`
	EnrollmentType     EnrollmentType   `db:"enrollment_type" json:"enrollment_type"`
	ScholarshipType    *ScholarshipType `db:"scholarship_type" json:"scholarship_type,omitempty"`
	ScholarshipPercent *int             `db:"scholarship_percent" json:"scholarship_percent,omitempty"`
	Price              float64          `db:"price" json:"price"`
	Currency           string           `db:"currency" json:"currency"`

	// Materialized counter maintained alongside enrollment writes and lazily
	// recomputed when found stale.
	EnrolledCount int `db:"enrolled_count" json:"enrolled_count"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StatusAt computes the admission window status at the given instant. A
// missing bound is treated as open-ended in that direction.
func (c *Cohort) StatusAt(now time.Time) CohortStatus {
	if c.OpensAt != nil && now.Before(*c.OpensAt) {
		return CohortStatusUpcoming
	}
	if c.ClosesAt != nil && !now.Before(*c.ClosesAt) {
		return CohortStatusClosed
	}
	return CohortStatusOpen
}

// RequiresPayment reports whether a seat in this cohort needs a verified
// payment. A full scholarship never requires payment regardless of price.
func (c *Cohort) RequiresPayment() bool {
	switch c.EnrollmentType {
	case EnrollmentTypePaid:
		return true
	case EnrollmentTypeScholarship:
		return c.ScholarshipType != nil && *c.ScholarshipType == ScholarshipTypePartial
	default:
		return false
	}
}

// Unlimited reports whether the cohort has no capacity bound.
func (c *Cohort) Unlimited() bool {
	return c.MaxStudents == nil
}

// CohortCapacity summarises a cohort's seat usage for API consumers.
type CohortCapacity struct {
	CohortID       string       `json:"cohort_id"`
	Status         CohortStatus `json:"status"`
	MaxStudents    *int         `json:"max_students,omitempty"`
	ActiveCount    int          `json:"active_count"`
	AvailableSpots *int         `json:"available_spots,omitempty"`
}
