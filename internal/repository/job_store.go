package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnhub/admission-api/internal/models"
	appErrors "github.com/learnhub/admission-api/pkg/errors"
)

const jobKeyPrefix = "admission:migration-jobs:"

// JobStore keeps bulk-migration job records in Redis under a TTL, so
// progress survives the request that started the run and old records expire
// without manual cleanup.
type JobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobStore constructs the store. A zero TTL falls back to 24 hours.
func NewJobStore(client *redis.Client, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStore{client: client, ttl: ttl}
}

// Save writes the full job record, resetting its expiry.
func (s *JobStore) Save(ctx context.Context, job *models.MigrationJob) error {
	if s.client == nil {
		return nil
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal migration job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save migration job %s: %w", job.ID, err)
	}
	return nil
}

// Find loads a job record by ID.
func (s *JobStore) Find(ctx context.Context, id string) (*models.MigrationJob, error) {
	if s.client == nil {
		return nil, appErrors.ErrNotFound
	}
	raw, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load migration job %s: %w", id, err)
	}
	var job models.MigrationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal migration job %s: %w", id, err)
	}
	return &job, nil
}
