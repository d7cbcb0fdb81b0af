package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"marksort/backend/internal/middleware"
)

// Handler processes one claimed job of a stage.
type Handler interface {
	Handle(ctx context.Context, j *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *Job) error

func (f HandlerFunc) Handle(ctx context.Context, j *Job) error { return f(ctx, j) }

// FailureHook is implemented by handlers that react to a job failing for good.
type FailureHook interface {
	OnFailure(ctx context.Context, j *Job, err error)
}

// DeadLetter keeps terminally failed jobs for inspection and manual retry.
type DeadLetter interface {
	Bury(ctx context.Context, j *Job, err error) error
}

type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

func DefaultPolicy() Policy {
	return Policy{BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Minute, Jitter: 0.5}
}

// Delay returns the wait before the next attempt, given how many attempts ran.
func (p Policy) Delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Worker consumes one stage topic. It implements nsq.Handler.
type Worker struct {
	stage      Stage
	repo       Repository
	pub        Publisher
	handler    Handler
	policy     Policy
	deadLetter DeadLetter
	timeout    time.Duration
}

func NewWorker(stage Stage, repo Repository, pub Publisher, h Handler, policy Policy, dl DeadLetter) *Worker {
	return &Worker{stage: stage, repo: repo, pub: pub, handler: h, policy: policy, deadLetter: dl}
}

// WithTimeout bounds each handler invocation.
func (w *Worker) WithTimeout(d time.Duration) *Worker {
	w.timeout = d
	return w
}

func (w *Worker) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var env envelope
	err := json.Unmarshal(m.Body, &env)

	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil || env.JobID == "" {
		slog.ErrorContext(ctx, "invalid message format", "stage", w.stage, "error", err)
		return nil
	}

	return w.process(ctx, env, m.Body)
}

func (w *Worker) process(ctx context.Context, env envelope, body []byte) error {
	j, err := w.repo.Claim(ctx, env.JobID)
	if errors.Is(err, ErrJobNotFound) {
		slog.DebugContext(ctx, "job not runnable, dropping", "stage", w.stage, "job_id", env.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	runCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "job started", "stage", w.stage, "job_id", j.ID, "user_id", j.UserID, "attempt", j.Attempts)
	herr := w.handler.Handle(runCtx, j)
	if herr == nil {
		if err := w.repo.MarkCompleted(ctx, j.ID); err != nil {
			slog.ErrorContext(ctx, "failed to mark job completed", "job_id", j.ID, "error", err)
		}
		return nil
	}

	if IsRetryable(herr) && j.Attempts < j.MaxAttempts {
		delay := w.policy.Delay(j.Attempts)
		slog.WarnContext(ctx, "job failed, retrying", "stage", w.stage, "job_id", j.ID, "attempt", j.Attempts, "delay", delay, "error", herr)
		if err := w.repo.MarkDelayed(ctx, j.ID, time.Now().Add(delay), herr.Error()); err != nil {
			return err
		}
		return w.pub.DeferredPublish(w.stage.Topic(), delay, body)
	}

	slog.ErrorContext(ctx, "job failed", "stage", w.stage, "job_id", j.ID, "user_id", j.UserID, "attempt", j.Attempts, "error", herr)
	if err := w.repo.MarkFailed(ctx, j.ID, herr.Error()); err != nil {
		slog.ErrorContext(ctx, "failed to mark job failed", "job_id", j.ID, "error", err)
	}
	if w.deadLetter != nil {
		if err := w.deadLetter.Bury(ctx, j, herr); err != nil {
			slog.ErrorContext(ctx, "failed to save failed job", "job_id", j.ID, "error", err)
		}
	}
	if hook, ok := w.handler.(FailureHook); ok {
		hook.OnFailure(ctx, j, herr)
	}
	return nil
}

// Consume starts an NSQ consumer for the worker's stage with the given concurrency.
func Consume(w *Worker, channel, lookupd string, concurrency int) (*nsq.Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	cfg := nsq.NewConfig()
	cfg.MaxInFlight = concurrency
	c, err := nsq.NewConsumer(w.stage.Topic(), channel, cfg)
	if err != nil {
		return nil, err
	}
	c.AddConcurrentHandlers(w, concurrency)
	if err := c.ConnectToNSQLookupd(lookupd); err != nil {
		return nil, err
	}
	return c, nil
}
