package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/pkg/jobs"
)

// Event delivery outcomes recorded by RecordEvent.
const (
	EventPublished = "published"
	EventDropped   = "dropped"
	EventFailed    = "failed"
)

const revisionEventJobType = "revision.appended"

type eventPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RevisionEvent is the message announced for every committed revision.
type RevisionEvent struct {
	RevisionID  string                `json:"revisionId"`
	EntityType  string                `json:"entityType"`
	EntityID    string                `json:"entityId"`
	Action      models.RevisionAction `json:"action"`
	Version     int64                 `json:"version"`
	ActorID     *string               `json:"actorId,omitempty"`
	IsPublished bool                  `json:"isPublished"`
	CreatedAt   time.Time             `json:"createdAt"`
}

// RevisionEventChannel names the pub/sub channel for an entity type.
func RevisionEventChannel(entityType string) string {
	return fmt.Sprintf("revisions.%s", entityType)
}

// RevisionEventsConfig tunes the delivery worker pool.
type RevisionEventsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// RevisionEvents announces committed revisions asynchronously. Delivery is
// best effort and never affects the revision that triggered it.
type RevisionEvents struct {
	publisher eventPublisher
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewRevisionEvents wires the worker queue around publisher.
func NewRevisionEvents(publisher eventPublisher, metrics *MetricsService, logger *zap.Logger, cfg RevisionEventsConfig) *RevisionEvents {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &RevisionEvents{publisher: publisher, metrics: metrics, logger: logger}
	e.queue = jobs.NewQueue("revision-events", e.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return e
}

// Start launches the delivery workers.
func (e *RevisionEvents) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Stop waits for in-flight deliveries.
func (e *RevisionEvents) Stop() {
	e.queue.Stop()
}

// Publish enqueues the announcement of rev.
func (e *RevisionEvents) Publish(_ context.Context, rev models.Revision) {
	event := RevisionEvent{
		RevisionID:  rev.ID,
		EntityType:  rev.EntityType,
		EntityID:    rev.EntityID,
		Action:      rev.Action,
		Version:     rev.Version,
		ActorID:     rev.ActorID,
		IsPublished: rev.IsPublished,
		CreatedAt:   rev.CreatedAt,
	}
	if err := e.queue.Enqueue(jobs.Job{ID: rev.ID, Type: revisionEventJobType, Payload: event}); err != nil {
		e.metrics.RecordEvent(EventDropped)
		e.logger.Warn("revision event dropped", zap.String("revision_id", rev.ID), zap.Error(err))
	}
}

func (e *RevisionEvents) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(RevisionEvent)
	if !ok {
		e.metrics.RecordEvent(EventDropped)
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.metrics.RecordEvent(EventDropped)
		return nil
	}
	if err := e.publisher.Publish(ctx, RevisionEventChannel(event.EntityType), payload); err != nil {
		e.metrics.RecordEvent(EventFailed)
		return err
	}
	e.metrics.RecordEvent(EventPublished)
	return nil
}
