package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/pkg/config"
	"github.com/learnhub/admission-api/pkg/jobs"
)

// Dispatcher hands a notification to the external delivery system. Rendering
// and transport are not this service's concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification) error
}

// DispatcherFunc allows using plain functions as dispatchers.
type DispatcherFunc func(ctx context.Context, n models.Notification) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

// LogDispatcher is the default sink when no delivery integration is wired.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher constructs the default dispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the notification instead of delivering it.
func (d *LogDispatcher) Dispatch(_ context.Context, n models.Notification) error {
	d.logger.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("template", string(n.Template)))
	return nil
}

// NotificationService queues notifications fire-and-forget. Admission
// correctness never depends on delivery: a full buffer or failing dispatcher
// is logged and surfaced in result metadata only.
type NotificationService struct {
	dispatcher Dispatcher
	queue      *jobs.Queue
	logger     *zap.Logger
}

// NewNotificationService constructs the service with its dispatch queue.
func NewNotificationService(dispatcher Dispatcher, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(logger)
	}
	s := &NotificationService{dispatcher: dispatcher, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.QueueWorkers,
		BufferSize: cfg.QueueBuffer,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start begins queue consumption.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues a notification. The returned flag reports whether the
// notification was queued; callers put it in response meta and move on.
func (s *NotificationService) Notify(recipient string, template models.NotificationTemplate, data map[string]string) bool {
	if s == nil {
		return false
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(template),
		Payload: models.Notification{Recipient: recipient, Template: template, Data: data},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to queue notification",
			zap.String("recipient", recipient),
			zap.String("template", string(template)),
			zap.Error(err))
		return false
	}
	return true
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	return s.dispatcher.Dispatch(ctx, n)
}
