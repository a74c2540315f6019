package models

import "time"

// MigrationEvent is one entry in an application's append-only migration
// audit trail. Events are never updated or deleted.
type MigrationEvent struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"application_id"`
	FromCohortID  *string   `db:"from_cohort_id" json:"from_cohort_id,omitempty"`
	ToCohortID    string    `db:"to_cohort_id" json:"to_cohort_id"`
	Actor         string    `db:"actor" json:"actor"`
	Note          string    `db:"note" json:"note"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// MigrationJobStatus captures bulk migration job lifecycle states.
type MigrationJobStatus string

const (
	MigrationJobStatusQueued   MigrationJobStatus = "QUEUED"
	MigrationJobStatusRunning  MigrationJobStatus = "RUNNING"
	MigrationJobStatusFinished MigrationJobStatus = "FINISHED"
	MigrationJobStatusFailed   MigrationJobStatus = "FAILED"
)

// MigrationItemResult reports the outcome for a single application within a
// bulk migration. Failures are isolated; they never roll back other items.
type MigrationItemResult struct {
	ApplicationID string `json:"application_id"`
	Migrated      bool   `json:"migrated"`
	Reason        string `json:"reason,omitempty"`
}

// MigrationJob is the poll-able record of a bulk migration run. Jobs live in
// a keyed store with a TTL rather than in process memory.
type MigrationJob struct {
	ID             string                `json:"id"`
	CourseID       string                `json:"course_id"`
	SourceCohortID *string               `json:"source_cohort_id,omitempty"`
	TargetCohortID *string               `json:"target_cohort_id,omitempty"`
	Status         MigrationJobStatus    `json:"status"`
	Total          int                   `json:"total"`
	MigratedCount  int                   `json:"migrated_count"`
	FailedCount    int                   `json:"failed_count"`
	Results        []MigrationItemResult `json:"results,omitempty"`
	CreatedBy      string                `json:"created_by"`
	CreatedAt      time.Time             `json:"created_at"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
	ErrorMessage   *string               `json:"error_message,omitempty"`
}
