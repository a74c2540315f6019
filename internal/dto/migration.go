package dto

// MigrateApplicationRequest moves one waitlisted application to a target
// cohort.
type MigrateApplicationRequest struct {
	TargetCohortID string `json:"target_cohort_id" validate:"required"`
	Note           string `json:"note,omitempty"`
}

// BulkMigrateRequest describes a bulk waitlist migration. Target resolution
// falls back to the next open cohort with capacity when unset.
type BulkMigrateRequest struct {
	CourseID       string `json:"course_id" validate:"required"`
	SourceCohortID string `json:"source_cohort_id,omitempty"`
	TargetCohortID string `json:"target_cohort_id,omitempty"`
	Note           string `json:"note,omitempty"`
}
