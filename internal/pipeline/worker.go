// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
	"github.com/crateworks/linernotes/internal/platform/httpx"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/store"
	"github.com/crateworks/linernotes/internal/telemetry"
)

// Handler processes one decoded message. Returning nil settles the
// message; any error is classified by the worker.
type Handler[T any] func(ctx context.Context, msg T) error

// Config tunes one stage worker. Zero values fall back to the defaults
// every stage shares.
type Config struct {
	Queue             string
	VisibilityTimeout time.Duration // lease length, default 60s
	BatchSize         int           // messages per poll, default 1
	Timeout           time.Duration // per-message deadline, default 30s
	MaxRetries        int           // deliveries before dead lettering, default 5
	Clock             clock.Clock
}

func (c *Config) applyDefaults() {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 60 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
}

// Runner is the queue-facing surface the daemon scheduler and the HTTP
// tick handlers drive. Every stage worker implements it.
type Runner interface {
	Queue() string
	Config() Config
	RunOnce(ctx context.Context) (int, error)
	Run(ctx context.Context, interval time.Duration) error
}

// Worker polls one queue and settles each leased message: archive on
// success, leave leased for redelivery on retryable failure, dead-letter
// otherwise. Invalid payloads never reach the handler.
type Worker[T any] struct {
	cfg      Config
	queue    queue.Queue
	recorder store.Recorder
	breakers *resilience.Registry
	handler  Handler[T]
	instance string
}

// NewWorker wires a stage worker. The breaker registry provides the
// queue-<name> breaker that guards the handler.
func NewWorker[T any](cfg Config, q queue.Queue, rec store.Recorder, breakers *resilience.Registry, handler Handler[T]) (*Worker[T], error) {
	if err := queue.ValidateName(cfg.Queue); err != nil {
		return nil, err
	}
	if q == nil || rec == nil || breakers == nil || handler == nil {
		return nil, fmt.Errorf("pipeline: worker for %s is missing a dependency", cfg.Queue)
	}
	cfg.applyDefaults()
	return &Worker[T]{
		cfg:      cfg,
		queue:    q,
		recorder: rec,
		breakers: breakers,
		handler:  handler,
		instance: instanceName(),
	}, nil
}

// Queue returns the queue this worker polls.
func (w *Worker[T]) Queue() string { return w.cfg.Queue }

// Config returns the effective worker configuration.
func (w *Worker[T]) Config() Config { return w.cfg }

// RunOnce performs a single poll cycle and processes every message it
// leased. Returns how many messages were leased.
func (w *Worker[T]) RunOnce(ctx context.Context) (int, error) {
	msgs, err := w.queue.Read(ctx, w.cfg.Queue, w.cfg.VisibilityTimeout, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("pipeline: read %s: %w", w.cfg.Queue, err)
	}
	for _, msg := range msgs {
		w.handleMessage(ctx, msg)
	}
	return len(msgs), nil
}

// Run polls until ctx is cancelled, sleeping interval (with jitter)
// between cycles. Poll errors are logged, not fatal.
func (w *Worker[T]) Run(ctx context.Context, interval time.Duration) error {
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger := log.WithComponent("pipeline")
			logger.Error().Err(err).
				Str(log.FieldQueue, w.cfg.Queue).Msg("poll cycle failed")
		}
		if err := w.cfg.Clock.Sleep(ctx, clock.Jitter(interval, 0.9, 1.1)); err != nil {
			return err
		}
	}
}

func (w *Worker[T]) handleMessage(ctx context.Context, msg queue.Message) {
	started := w.cfg.Clock.Now()
	ctx = log.ContextWithQueue(ctx, w.cfg.Queue)
	ctx = log.ContextWithMessageID(ctx, msg.ID)

	var payload T
	if problems := decode(msg.Body, &payload); len(problems) > 0 {
		w.rejectInvalid(ctx, msg, problems, started)
		return
	}

	ctx = telemetry.Extract(ctx, TraceContextOf(msg.Body))
	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "process "+w.cfg.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(telemetry.QueueAttributes(w.cfg.Queue, msg.ID, int(msg.ReadCount))...))
	defer span.End()

	// Redeliveries carry their attempt number so the shared rate limiter
	// can widen its window for struggling upstreams.
	ctx = httpx.ContextWithAttempt(ctx, int(msg.ReadCount)-1)

	breaker := w.breakers.GetOrCreate("queue-" + w.cfg.Queue)
	err := breaker.Fire(ctx, func(ctx context.Context) error {
		return w.race(ctx, payload)
	})
	elapsed := w.cfg.Clock.Now().Sub(started)

	if err == nil {
		w.settleSuccess(ctx, msg, elapsed)
		return
	}
	w.settleFailure(ctx, span, msg, err, elapsed)
}

// race runs the handler against the per-message deadline. On expiry the
// handler's outcome no longer matters: the lease lapses, the message
// reappears, and idempotent writes make the partial progress safe.
func (w *Worker[T]) race(ctx context.Context, payload T) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errcat.Newf(errcat.Unknown, "handler panic: %v", r)
			}
		}()
		done <- w.handler(ctx, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errcat.Wrap(errcat.Timeout, ctx.Err(), "processing deadline exceeded")
	}
}

func (w *Worker[T]) settleSuccess(ctx context.Context, msg queue.Message, elapsed time.Duration) {
	logger := log.WithComponentFromContext(ctx, "pipeline")
	if _, err := w.queue.Archive(ctx, w.cfg.Queue, msg.ID); err != nil {
		logger.Error().Err(err).
			Msg("archive after success failed, message will be redelivered")
	}
	w.recordMetric(ctx, msg, store.StatusSuccess, elapsed, nil)
	metrics.RecordQueueMessage(w.cfg.Queue, "success", elapsed)
	logger.Debug().
		Int64(log.FieldReadCount, msg.ReadCount).Dur("elapsed", elapsed).Msg("message processed")
}

func (w *Worker[T]) settleFailure(ctx context.Context, span trace.Span, msg queue.Message, procErr error, elapsed time.Duration) {
	cat := errcat.CategoryOf(procErr)
	span.RecordError(procErr)
	span.SetStatus(codes.Error, string(cat))
	span.SetAttributes(telemetry.ErrorAttributes(string(cat))...)

	logger := log.WithComponentFromContext(ctx, "pipeline")
	if errcat.IsRetryable(procErr) && msg.ReadCount < int64(w.cfg.MaxRetries) {
		logger.Warn().Err(procErr).
			Str(log.FieldCategory, string(cat)).
			Int64(log.FieldReadCount, msg.ReadCount).
			Int("max_retries", w.cfg.MaxRetries).
			Msg("processing failed, message stays leased for redelivery")
		w.recordMetric(ctx, msg, store.StatusError, elapsed, w.failureDetails(ctx, msg, cat, procErr, true))
		metrics.RecordQueueMessage(w.cfg.Queue, "retry", elapsed)
		return
	}

	w.deadLetter(ctx, msg, cat, procErr)
	w.recordMetric(ctx, msg, store.StatusError, elapsed, w.failureDetails(ctx, msg, cat, procErr, false))
	metrics.RecordQueueMessage(w.cfg.Queue, "error", elapsed)
}

func (w *Worker[T]) rejectInvalid(ctx context.Context, msg queue.Message, problems []string, started time.Time) {
	logger := log.WithComponentFromContext(ctx, "pipeline")
	logger.Error().Strs("problems", problems).RawJSON("body", msg.Body).
		Msg("message failed schema validation")

	if err := w.recorder.RecordValidationReport(ctx, w.cfg.Queue, msg.ID, problems, msg.Body); err != nil {
		logger.Warn().Err(err).Msg("validation report write failed")
	}
	w.deadLetter(ctx, msg, errcat.Validation, errcat.New(errcat.Validation, strings.Join(problems, "; ")))

	elapsed := w.cfg.Clock.Now().Sub(started)
	w.recordMetric(ctx, msg, store.StatusError, elapsed, map[string]any{
		"category": string(errcat.Validation),
		"problems": problems,
	})
	metrics.RecordQueueMessage(w.cfg.Queue, "validation", elapsed)
}

// deadLetter parks the message and only then archives it. When the park
// fails the message stays leased, so a storage outage cannot lose work.
func (w *Worker[T]) deadLetter(ctx context.Context, msg queue.Message, cat errcat.Category, procErr error) {
	logger := log.WithComponentFromContext(ctx, "pipeline")
	item := store.DeadLetterItem{
		Queue:     w.cfg.Queue,
		MsgID:     msg.ID,
		Message:   msg.Body,
		FailCount: msg.ReadCount + 1,
		Details:   w.failureDetails(ctx, msg, cat, procErr, false),
	}
	if err := w.recorder.InsertDeadLetter(ctx, item); err != nil {
		logger.Error().Err(err).Msg("dead letter insert failed, leaving message leased")
		return
	}
	if _, err := w.queue.Archive(ctx, w.cfg.Queue, msg.ID); err != nil {
		logger.Error().Err(err).Msg("archive after dead letter failed")
	}
	metrics.RecordDeadLetter(w.cfg.Queue, string(cat))
	logger.Error().Err(procErr).
		Str(log.FieldCategory, string(cat)).
		Int64("fail_count", msg.ReadCount+1).
		Msg("message dead lettered")
}

func (w *Worker[T]) recordMetric(ctx context.Context, msg queue.Message, status string, elapsed time.Duration, details any) {
	spanID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	metric := store.QueueMetric{
		Queue:        w.cfg.Queue,
		MsgID:        msg.ID,
		Status:       status,
		ProcessingMS: elapsed.Milliseconds(),
		SpanID:       spanID,
		Details:      details,
	}
	if err := w.recorder.RecordQueueMetric(ctx, metric); err != nil {
		logger := log.WithComponentFromContext(ctx, "pipeline")
		logger.Warn().Err(err).Msg("queue metric write failed")
	}
}

func (w *Worker[T]) failureDetails(ctx context.Context, msg queue.Message, cat errcat.Category, procErr error, willRetry bool) map[string]any {
	details := map[string]any{
		"category":       string(cat),
		"message":        procErr.Error(),
		"chain":          errorChain(procErr),
		"readCount":      msg.ReadCount,
		"willRetry":      willRetry,
		"workerInstance": w.instance,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		details["traceId"] = sc.TraceID().String()
	}
	return details
}

func decode[T any](body json.RawMessage, payload *T) []string {
	if err := json.Unmarshal(body, payload); err != nil {
		return []string{"malformed message body: " + err.Error()}
	}
	return Validate(*payload)
}

// errorChain flattens the wrap chain, outermost first.
func errorChain(err error) []string {
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, e.Error())
	}
	return chain
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
