package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"recognition-orchestrator/internal/models"
	"recognition-orchestrator/internal/orchestrator"
	"recognition-orchestrator/internal/telemetry"
)

// Queue is the lease-based poll queue.
type Queue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, requestID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// TaskLookup resolves a request id to its task record.
type TaskLookup interface {
	GetByRequestID(ctx context.Context, requestID string) (models.TaskRecord, error)
}

// Tracker polls a submitted job to completion.
type Tracker interface {
	Track(ctx context.Context, sub orchestrator.Submission) orchestrator.Result
}

// Processor drives the worker loop: one Track per dequeued job.
type Processor struct {
	queue        Queue
	tasks        TaskLookup
	tracker      Tracker
	pollInterval time.Duration
	log          *slog.Logger
}

func NewProcessor(q Queue, tasks TaskLookup, tracker Tracker, pollInterval time.Duration, log *slog.Logger) *Processor {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{queue: q, tasks: tasks, tracker: tracker, pollInterval: pollInterval, log: log}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		worked, err := p.ProcessOne(ctx)
		if err != nil {
			p.log.Error("Worker iteration failed.", "error", err)
		}
		if !worked || err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// ProcessOne reclaims expired leases and tracks at most one job. It reports
// whether a job was dequeued.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100)
	switch {
	case err != nil:
		p.log.Warn("Failed to requeue expired leases.", "error", err)
	case len(reclaimed) > 0:
		p.log.Warn("Requeued expired leases.", "count", len(reclaimed))
	}
	if depth, err := p.queue.ReadyDepth(ctx); err != nil {
		p.log.Warn("Failed to read queue depth.", "error", err)
	} else {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	requestID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, err
	}
	if requestID == "" {
		return false, nil
	}

	sub := orchestrator.Submission{RequestID: requestID}
	rec, err := p.tasks.GetByRequestID(ctx, requestID)
	switch {
	case err == nil && rec.Status.Terminal():
		p.log.Info("Skipping finished job.", "requestId", requestID, "status", rec.Status)
		return true, p.queue.Ack(ctx, requestID)
	case err == nil:
		sub.UserID, sub.BookName = rec.UserID, rec.BookName
	default:
		p.log.Warn("Task record unavailable, tracking anyway.", "requestId", requestID, "error", err)
	}

	res := p.tracker.Track(ctx, sub)
	if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
		// Leave the lease in place so another worker reclaims the job.
		return true, nil
	}
	for _, w := range res.Warnings {
		p.log.Warn("Job finished with warning.", "requestId", requestID, "warning", w.String())
	}
	return true, p.queue.Ack(ctx, requestID)
}
