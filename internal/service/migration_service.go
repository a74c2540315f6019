package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/admission-api/internal/dto"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
	"github.com/learnhub/admission-api/pkg/jobs"
)

type migrationStore interface {
	Migrate(ctx context.Context, params repository.MigrateParams) error
	ListEvents(ctx context.Context, applicationID string) ([]models.MigrationEvent, error)
}

type waitlistSource interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	ListWaitlistedForMigration(ctx context.Context, courseID string, sourceCohortID *string) ([]models.Application, error)
}

type jobRecorder interface {
	Save(ctx context.Context, job *models.MigrationJob) error
	Find(ctx context.Context, id string) (*models.MigrationJob, error)
}

type migrationRecorder interface {
	RecordMigration(outcome string)
}

type bulkPayload struct {
	JobID string
	Note  string
	Actor string
}

// MigrationService moves waitlisted applications into later cohorts, one at a
// time or in rank order as a background bulk run.
type MigrationService struct {
	apps       waitlistSource
	migrations migrationStore
	cohorts    cohortReader
	capacity   *CapacityService
	store      jobRecorder
	metrics    migrationRecorder
	notify     notifier
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time

	queue *jobs.Queue
}

// NewMigrationService constructs the service and its bulk-run queue.
func NewMigrationService(
	apps waitlistSource,
	migrations migrationStore,
	cohorts cohortReader,
	capacity *CapacityService,
	store jobRecorder,
	metrics migrationRecorder,
	notify notifier,
	validate *validator.Validate,
	logger *zap.Logger,
	workers int,
) *MigrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MigrationService{
		apps:       apps,
		migrations: migrations,
		cohorts:    cohorts,
		capacity:   capacity,
		store:      store,
		metrics:    metrics,
		notify:     notify,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
	s.queue = jobs.NewQueue("migrations", s.handle, jobs.QueueConfig{
		Workers: workers,
		Logger:  logger,
	})
	return s
}

// WithClock overrides the time source for tests.
func (s *MigrationService) WithClock(now func() time.Time) *MigrationService {
	if now != nil {
		s.now = now
	}
	return s
}

// Start launches the bulk-run workers.
func (s *MigrationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *MigrationService) Stop() {
	s.queue.Stop()
}

// MigrateOne moves a single waitlisted application to the target cohort. The
// notified flag reports whether the applicant notification was queued.
func (s *MigrationService) MigrateOne(ctx context.Context, applicationID string, req dto.MigrateApplicationRequest, actor string) (*models.Application, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid migration payload")
	}

	app, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if app.Status != models.ApplicationStatusWaitlisted {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("only waitlisted applications can migrate, application is %s", app.Status))
	}

	target, err := s.loadTarget(ctx, req.TargetCohortID, app.CourseID)
	if err != nil {
		return nil, false, err
	}
	if app.CohortID != nil && *app.CohortID == target.ID {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "application is already linked to the target cohort")
	}

	if err := s.runOne(ctx, app, target, actor, req.Note); err != nil {
		return nil, false, err
	}

	notified := s.sendMigrated(app, target)
	return app, notified, nil
}

// Events returns an application's migration trail, oldest first.
func (s *MigrationService) Events(ctx context.Context, applicationID string) ([]models.MigrationEvent, error) {
	if _, err := s.apps.FindByID(ctx, applicationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	events, err := s.migrations.ListEvents(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list migration events")
	}
	return events, nil
}

// StartBulk resolves the target cohort, records a QUEUED job, and hands the
// run to the background workers. Callers poll the returned job by ID.
func (s *MigrationService) StartBulk(ctx context.Context, req dto.BulkMigrateRequest, actor string) (*models.MigrationJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk migration payload")
	}

	var source *models.Cohort
	if req.SourceCohortID != "" {
		cohort, err := s.cohorts.FindByID(ctx, req.SourceCohortID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "source cohort not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source cohort")
		}
		if cohort.CourseID != req.CourseID {
			return nil, appErrors.Clone(appErrors.ErrCourseMismatch, "source cohort belongs to a different course")
		}
		source = cohort
	}

	var target *models.Cohort
	if req.TargetCohortID != "" {
		cohort, err := s.loadTarget(ctx, req.TargetCohortID, req.CourseID)
		if err != nil {
			return nil, err
		}
		target = cohort
	} else {
		cohort, err := s.capacity.ResolveNextCohort(ctx, req.CourseID, source)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve target cohort")
		}
		if cohort == nil {
			return nil, appErrors.Clone(appErrors.ErrCohortFull, "no later cohort with open capacity exists for this course")
		}
		target = cohort
	}

	job := &models.MigrationJob{
		ID:             uuid.NewString(),
		CourseID:       req.CourseID,
		TargetCohortID: &target.ID,
		Status:         models.MigrationJobStatusQueued,
		CreatedBy:      actor,
		CreatedAt:      s.now().UTC(),
	}
	if source != nil {
		job.SourceCohortID = &source.ID
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record migration job")
	}

	err := s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    "bulk-migration",
		Payload: bulkPayload{JobID: job.ID, Note: req.Note, Actor: actor},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue migration job")
	}
	return job, nil
}

// Job returns a bulk migration job record by ID.
func (s *MigrationService) Job(ctx context.Context, id string) (*models.MigrationJob, error) {
	job, err := s.store.Find(ctx, id)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "migration job not found or expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load migration job")
	}
	return job, nil
}

func (s *MigrationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(bulkPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	record, err := s.store.Find(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", payload.JobID, err)
	}
	return s.RunBulk(ctx, record, payload.Actor, payload.Note)
}

// RunBulk executes a bulk migration job: waitlisted applications for the
// course are processed in rank order until the target cohort fills. Per-item
// failures are recorded and never abort the run.
func (s *MigrationService) RunBulk(ctx context.Context, job *models.MigrationJob, actor, note string) error {
	job.Status = models.MigrationJobStatusRunning
	if err := s.store.Save(ctx, job); err != nil {
		s.logger.Sugar().Warnw("failed to mark migration job running", "job_id", job.ID, "error", err)
	}

	fail := func(cause error) error {
		msg := cause.Error()
		finished := s.now().UTC()
		job.Status = models.MigrationJobStatusFailed
		job.ErrorMessage = &msg
		job.FinishedAt = &finished
		if err := s.store.Save(ctx, job); err != nil {
			s.logger.Sugar().Errorw("failed to record failed migration job", "job_id", job.ID, "error", err)
		}
		return cause
	}

	if job.TargetCohortID == nil {
		return fail(fmt.Errorf("migration job %s has no target cohort", job.ID))
	}
	target, err := s.cohorts.FindByID(ctx, *job.TargetCohortID)
	if err != nil {
		return fail(fmt.Errorf("load target cohort: %w", err))
	}

	apps, err := s.apps.ListWaitlistedForMigration(ctx, job.CourseID, job.SourceCohortID)
	if err != nil {
		return fail(fmt.Errorf("list waitlisted applications: %w", err))
	}

	job.Total = len(apps)
	job.Results = make([]models.MigrationItemResult, 0, len(apps))
	full := false
	for i := range apps {
		app := &apps[i]
		result := models.MigrationItemResult{ApplicationID: app.ID}
		if full {
			result.Reason = "target cohort full"
			job.FailedCount++
			job.Results = append(job.Results, result)
			continue
		}
		if err := s.runOne(ctx, app, target, actor, note); err != nil {
			result.Reason = err.Error()
			job.FailedCount++
			if appErrors.Is(err, appErrors.ErrCohortFull) {
				// Applications are rank-ordered, so once the target is full
				// nobody further down can take a seat either.
				full = true
			}
		} else {
			result.Migrated = true
			job.MigratedCount++
			s.sendMigrated(app, target)
		}
		job.Results = append(job.Results, result)
	}

	finished := s.now().UTC()
	job.Status = models.MigrationJobStatusFinished
	job.FinishedAt = &finished
	if err := s.store.Save(ctx, job); err != nil {
		s.logger.Sugar().Errorw("failed to record finished migration job", "job_id", job.ID, "error", err)
	}
	s.logger.Sugar().Infow("bulk migration finished",
		"job_id", job.ID, "course_id", job.CourseID,
		"migrated", job.MigratedCount, "failed", job.FailedCount)
	return nil
}

// runOne performs a single migration hop and records metrics plus cache
// invalidation. The application's in-memory state is updated on success.
func (s *MigrationService) runOne(ctx context.Context, app *models.Application, target *models.Cohort, actor, note string) error {
	migratedAt := s.now().UTC()
	err := s.migrations.Migrate(ctx, repository.MigrateParams{
		Application: app,
		Target:      target,
		Actor:       actor,
		Note:        note,
		MigratedAt:  migratedAt,
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrCohortFull) {
			s.record("cohort_full")
			return err
		}
		if appErrors.Is(err, appErrors.ErrPersistenceConflict) {
			s.record("conflict")
			return err
		}
		s.record("error")
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to migrate application")
	}

	sourceID := app.CohortID
	if app.OriginalCohortID == nil {
		app.OriginalCohortID = sourceID
	}
	app.Status = models.ApplicationStatusPending
	app.CohortID = &target.ID
	app.CohortLabel = &target.Label
	starts, ends := target.StartsAt, target.EndsAt
	app.CohortStartsAt = &starts
	app.CohortEndsAt = &ends
	app.MigratedToCohort = &target.ID
	app.MigratedAt = &migratedAt

	s.capacity.InvalidateCapacity(ctx, target.ID)
	if sourceID != nil {
		s.capacity.InvalidateCapacity(ctx, *sourceID)
	}
	s.record("migrated")
	return nil
}

func (s *MigrationService) loadTarget(ctx context.Context, cohortID, courseID string) (*models.Cohort, error) {
	target, err := s.cohorts.FindByID(ctx, cohortID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target cohort")
	}
	if target.CourseID != courseID {
		return nil, appErrors.ErrCourseMismatch
	}
	return target, nil
}

func (s *MigrationService) sendMigrated(app *models.Application, target *models.Cohort) bool {
	if s.notify == nil {
		return false
	}
	return s.notify.Notify(app.Email, models.TemplateApplicationMigrated, map[string]string{
		"application_id": app.ID,
		"cohort_id":      target.ID,
		"cohort_label":   target.Label,
	})
}

func (s *MigrationService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordMigration(outcome)
	}
}
