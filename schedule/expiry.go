// Package schedule runs the token expiry sweep as a queued go-job workload:
// a scheduler enqueues one sweep message per cadence window and a worker
// consumes them, so multiple connector instances can share a queue without
// sweeping twice.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-psd2-connector/core"
)

const JobIDTokenExpiry = "connector.tokens.expire"

const DefaultSweepInterval = time.Hour

// SweepService is the slice of the connector service the worker drives.
type SweepService interface {
	RunExpirySweep(ctx context.Context, batchSize int) (int, error)
}

// RetryPolicy bounds the worker's nack behavior so a poisoned sweep message
// cannot loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func (p RetryPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ExpiryScheduler enqueues one sweep message per cadence window. The
// idempotency key is derived from the window start so a second scheduler
// instance enqueues a duplicate the queue can drop.
type ExpiryScheduler struct {
	enqueuer  queue.Enqueuer
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type SchedulerOption func(*ExpiryScheduler)

func WithSweepInterval(interval time.Duration) SchedulerOption {
	return func(s *ExpiryScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithSweepBatchSize(batchSize int) SchedulerOption {
	return func(s *ExpiryScheduler) {
		if batchSize > 0 {
			s.batchSize = batchSize
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *ExpiryScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func NewExpiryScheduler(enqueuer queue.Enqueuer, opts ...SchedulerOption) (*ExpiryScheduler, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("schedule: enqueuer is required")
	}
	scheduler := &ExpiryScheduler{
		enqueuer:  enqueuer,
		interval:  DefaultSweepInterval,
		batchSize: core.DefaultExpirySweepBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	return scheduler, nil
}

// EnqueueSweep enqueues the sweep message for the current cadence window.
func (s *ExpiryScheduler) EnqueueSweep(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("schedule: enqueuer is not configured")
	}
	window := s.now().UTC().Truncate(s.interval)
	return s.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID: JobIDTokenExpiry,
		Parameters: map[string]any{
			"batch_size": s.batchSize,
		},
		IdempotencyKey: fmt.Sprintf("%s@%d", JobIDTokenExpiry, window.Unix()),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	})
}

// Run enqueues a sweep every interval until the context is done.
func (s *ExpiryScheduler) Run(ctx context.Context) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("schedule: enqueuer is not configured")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.EnqueueSweep(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExpiryWorker consumes sweep messages and runs the sweep against the
// connector service.
type ExpiryWorker struct {
	dequeuer queue.Dequeuer
	service  SweepService
	policy   RetryPolicy
	logger   glog.Logger
}

type WorkerOption func(*ExpiryWorker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *ExpiryWorker) {
		w.policy = policy
	}
}

func WithWorkerLogger(logger glog.Logger) WorkerOption {
	return func(w *ExpiryWorker) {
		w.logger = logger
	}
}

func NewExpiryWorker(dequeuer queue.Dequeuer, service SweepService, opts ...WorkerOption) (*ExpiryWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("schedule: dequeuer is required")
	}
	if service == nil {
		return nil, fmt.Errorf("schedule: sweep service is required")
	}
	expiryWorker := &ExpiryWorker{
		dequeuer: dequeuer,
		service:  service,
		policy: RetryPolicy{
			MaxAttempts:     5,
			MaxDelay:        time.Minute,
			DeadLetterOnMax: true,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(expiryWorker)
		}
	}
	expiryWorker.logger = glog.Ensure(expiryWorker.logger)
	return expiryWorker, nil
}

// RunOnce consumes a single delivery. Unknown job ids are dead-lettered,
// sweep failures are nacked under the retry policy.
func (w *ExpiryWorker) RunOnce(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("schedule: dequeuer is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return w.handle(ctx, delivery, 0)
}

func (w *ExpiryWorker) handle(ctx context.Context, delivery queue.Delivery, attempt int) error {
	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDTokenExpiry {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		w.logger.Error("unexpected job delivered to expiry worker", "job_id", jobID)
		return delivery.Nack(ctx, queue.NackOptions{
			DeadLetter: true,
			Reason:     "unexpected job id",
		})
	}

	expired, sweepErr := w.service.RunExpirySweep(ctx, batchSizeParam(msg.Parameters))
	if sweepErr != nil {
		w.logger.Error("token expiry sweep failed", "error", sweepErr.Error())
		return delivery.Nack(ctx, w.policy.Normalize(queue.NackOptions{
			Delay:   time.Duration(attempt+1) * time.Second,
			Requeue: true,
			Reason:  sweepErr.Error(),
		}, attempt))
	}

	w.logger.Info("token expiry sweep complete", "expired", expired)
	return delivery.Ack(ctx)
}

// Hook returns a worker hook that logs lifecycle events through the
// connector's logger, for wiring into a go-job worker pool.
func (w *ExpiryWorker) Hook() worker.Hook {
	return &loggingHook{logger: glog.Ensure(w.logger)}
}

type loggingHook struct {
	logger glog.Logger
}

func (h *loggingHook) OnStart(_ context.Context, event worker.Event) {
	h.logger.Debug("sweep job started", "job_id", eventJobID(event))
}

func (h *loggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.logger.Info("sweep job succeeded",
		"job_id", eventJobID(event),
		"duration", event.Duration.String(),
	)
}

func (h *loggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.logger.Error("sweep job failed",
		"job_id", eventJobID(event),
		"attempt", event.Attempt,
		"error", errorText(event.Err),
	)
}

func (h *loggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.logger.Warn("sweep job retrying",
		"job_id", eventJobID(event),
		"attempt", event.Attempt,
		"delay", event.Delay.String(),
	)
}

// JobLogger adapts the connector's logger to the go-job logger contract for
// queue and worker construction.
func JobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// JobLoggerProvider adapts a glog provider to the go-job provider contract.
func JobLoggerProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func eventJobID(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return ""
	}
	return message.JobID
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func batchSizeParam(params map[string]any) int {
	raw, ok := params["batch_size"]
	if !ok {
		return core.DefaultExpirySweepBatchSize
	}
	switch typed := raw.(type) {
	case int:
		if typed > 0 {
			return typed
		}
	case int64:
		if typed > 0 {
			return int(typed)
		}
	case float64:
		if typed > 0 {
			return int(typed)
		}
	}
	return core.DefaultExpirySweepBatchSize
}

var _ worker.Hook = (*loggingHook)(nil)
