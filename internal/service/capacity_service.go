package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
)

type cohortReader interface {
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
	FindByLabelAndCourse(ctx context.Context, label, courseID string) (*models.Cohort, error)
	LatestByCourse(ctx context.Context, courseID string) (*models.Cohort, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Cohort, error)
	ActiveEnrollmentCount(ctx context.Context, cohortID string) (int, error)
	RefreshEnrolledCount(ctx context.Context, cohortID string) (int, error)
}

// CapacityService answers cohort status, capacity, and payment-requirement
// questions. The advisory checks here are read-only; the authoritative
// capacity enforcement happens under the cohort row lock in the repositories.
type CapacityService struct {
	cohorts cohortReader
	cache   *repository.CacheRepository
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewCapacityService constructs the service.
func NewCapacityService(cohorts cohortReader, cache *repository.CacheRepository, ttl time.Duration, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{cohorts: cohorts, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Tests use this to pin cohort status.
func (s *CapacityService) WithClock(now func() time.Time) *CapacityService {
	if now != nil {
		s.now = now
	}
	return s
}

// Status computes the admission window status for a cohort right now.
func (s *CapacityService) Status(cohort *models.Cohort) models.CohortStatus {
	return cohort.StatusAt(s.now())
}

// HasCapacity reports whether the cohort can take one more seat. Unlimited
// cohorts always have room.
func (s *CapacityService) HasCapacity(ctx context.Context, cohort *models.Cohort) (bool, error) {
	if cohort.Unlimited() {
		return true, nil
	}
	active, err := s.cohorts.ActiveEnrollmentCount(ctx, cohort.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	return active < *cohort.MaxStudents, nil
}

// AvailableSpots returns the remaining seat count, or nil when unlimited.
func (s *CapacityService) AvailableSpots(ctx context.Context, cohort *models.Cohort) (*int, error) {
	if cohort.Unlimited() {
		return nil, nil
	}
	active, err := s.cohorts.ActiveEnrollmentCount(ctx, cohort.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	spots := *cohort.MaxStudents - active
	if spots < 0 {
		spots = 0
	}
	return &spots, nil
}

// ResolveNextCohort scans the course's cohorts ordered by open time and
// returns the first open or upcoming one with available capacity strictly
// after the reference cohort. Returns nil when exhausted.
func (s *CapacityService) ResolveNextCohort(ctx context.Context, courseID string, after *models.Cohort) (*models.Cohort, error) {
	cohorts, err := s.cohorts.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cohorts")
	}

	passedReference := after == nil
	for i := range cohorts {
		cohort := &cohorts[i]
		if !passedReference {
			if cohort.ID == after.ID {
				passedReference = true
			}
			continue
		}
		status := s.Status(cohort)
		if status == models.CohortStatusClosed {
			continue
		}
		ok, err := s.HasCapacity(ctx, cohort)
		if err != nil {
			return nil, err
		}
		if ok {
			return cohort, nil
		}
	}
	return nil, nil
}

// Cohort returns one cohort by ID.
func (s *CapacityService) Cohort(ctx context.Context, id string) (*models.Cohort, error) {
	cohort, err := s.cohorts.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}
	return cohort, nil
}

// CohortsForCourse lists a course's cohorts ordered by open time.
func (s *CapacityService) CohortsForCourse(ctx context.Context, courseID string) ([]models.Cohort, error) {
	cohorts, err := s.cohorts.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cohorts")
	}
	return cohorts, nil
}

// Capacity builds the seat-usage summary for one cohort, cached briefly
// because admin dashboards poll it.
func (s *CapacityService) Capacity(ctx context.Context, cohortID string) (*models.CohortCapacity, error) {
	key := capacityCacheKey(cohortID)
	if s.cache != nil {
		var cached models.CohortCapacity
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	cohort, err := s.cohorts.FindByID(ctx, cohortID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cohort not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort")
	}

	active, err := s.cohorts.ActiveEnrollmentCount(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}

	// Opportunistic repair of a stale materialized counter.
	if cohort.EnrolledCount != active {
		if _, err := s.cohorts.RefreshEnrolledCount(ctx, cohortID); err != nil {
			s.logger.Warn("failed to refresh enrolled counter", zap.String("cohort_id", cohortID), zap.Error(err))
		}
	}

	summary := &models.CohortCapacity{
		CohortID:    cohortID,
		Status:      s.Status(cohort),
		MaxStudents: cohort.MaxStudents,
		ActiveCount: active,
	}
	if !cohort.Unlimited() {
		spots := *cohort.MaxStudents - active
		if spots < 0 {
			spots = 0
		}
		summary.AvailableSpots = &spots
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, s.ttl); err != nil {
			s.logger.Warn("failed to cache capacity summary", zap.Error(err))
		}
	}
	return summary, nil
}

// InvalidateCapacity drops the cached summary after an enrollment write.
func (s *CapacityService) InvalidateCapacity(ctx context.Context, cohortID string) {
	if s.cache == nil || cohortID == "" {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, capacityCacheKey(cohortID)); err != nil {
		s.logger.Warn("failed to invalidate capacity cache", zap.String("cohort_id", cohortID), zap.Error(err))
	}
}

func capacityCacheKey(cohortID string) string {
	return fmt.Sprintf("admission:capacity:%s", cohortID)
}
