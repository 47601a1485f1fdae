// Package engine runs the delivery state machine: it admits rendered
// messages into the queue, drains due items in cycles and records
// terminal transitions for statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Raywonder/flexpbx-mailer/internal/email"
	"github.com/Raywonder/flexpbx-mailer/internal/metrics"
	"github.com/Raywonder/flexpbx-mailer/internal/models"
	"github.com/Raywonder/flexpbx-mailer/internal/render"
	"github.com/Raywonder/flexpbx-mailer/internal/secret"
	"github.com/Raywonder/flexpbx-mailer/internal/store"
	"github.com/Raywonder/flexpbx-mailer/internal/transport"
)

// ErrNoActiveConfig is returned when no delivery configuration is
// active. The worker skips all queued work in that state.
var ErrNoActiveConfig = errors.New("no active delivery configuration")

// Sender delivers a single message through a delivery configuration.
type Sender interface {
	Send(ctx context.Context, cfg *models.SMTPConfig, msg *transport.Message) error
}

// RateLimiter grants delivery attempts against a rolling hourly cap.
type RateLimiter interface {
	TryReserve(configID int64, limit int) bool
}

// Options tunes the retry policy.
type Options struct {
	// RetryBase is the delay before the first retry. Doubles on each
	// further attempt.
	RetryBase time.Duration
	// RetryCap bounds the retry delay.
	RetryCap time.Duration
	// FailFastPermanent fails an item on its first permanent (5xx)
	// rejection instead of burning the remaining attempts.
	FailFastPermanent bool
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Configs   *store.ConfigRepository
	Templates *store.TemplateRepository
	Queue     *store.QueueRepository
	Logs      *store.LogRepository
	Renderer  *render.Renderer
	Limiter   RateLimiter
	Sender    Sender
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine implements the service operations on top of the repositories.
type Engine struct {
	configs   *store.ConfigRepository
	templates *store.TemplateRepository
	queue     *store.QueueRepository
	logs      *store.LogRepository
	renderer  *render.Renderer
	limiter   RateLimiter
	sender    Sender
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options

	now func() time.Time
}

func New(deps Deps, opts Options) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		configs:   deps.Configs,
		templates: deps.Templates,
		queue:     deps.Queue,
		logs:      deps.Logs,
		renderer:  deps.Renderer,
		limiter:   deps.Limiter,
		sender:    deps.Sender,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "engine"),
		opts:      opts,
		now:       time.Now,
	}
}

// Enqueue renders a template with the given bindings and admits the
// result into the queue. The rendered subject and bodies are a
// snapshot: later template edits never change queued content.
func (e *Engine) Enqueue(ctx context.Context, templateKey, recipient string, vars map[string]string, scheduledFor *time.Time) (*models.QueueItem, error) {
	if err := email.ValidateAddress(recipient); err != nil {
		return nil, err
	}

	cfg, err := e.configs.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active configuration: %w", err)
	}
	if cfg == nil {
		return nil, ErrNoActiveConfig
	}

	rendered, err := e.renderer.Render(ctx, templateKey, vars)
	if err != nil {
		return nil, err
	}

	when := e.now()
	if scheduledFor != nil && scheduledFor.After(when) {
		when = *scheduledFor
	}

	item := &models.QueueItem{
		ID:           uuid.New().String(),
		TemplateKey:  templateKey,
		Recipient:    recipient,
		Subject:      rendered.Subject,
		HTML:         rendered.HTML,
		Text:         rendered.Text,
		Status:       models.StatusQueued,
		MaxAttempts:  cfg.MaxAttempts,
		ScheduledFor: when,
	}
	if err := e.queue.Insert(ctx, item); err != nil {
		return nil, err
	}

	e.metrics.MessagesEnqueuedTotal.Inc()
	e.logger.Info("message enqueued",
		"id", item.ID,
		"template", templateKey,
		"recipient", recipient,
		"scheduled_for", when,
	)
	return item, nil
}

// Built-in content for test sends. Not stored as a template row so a
// misconfigured template store can never block a connectivity check.
const (
	testSubject = "Delivery test from {{host}}"
	testText    = "This is a test message sent to {{recipient}} on {{date}}.\n\nIf you received it, outbound delivery through {{host}} is working."
	testHTML    = "<p>This is a test message sent to <b>{{recipient}}</b> on {{date}}.</p><p>If you received it, outbound delivery through {{host}} is working.</p>"
)

// SubmitTest sends a test message synchronously through the active
// configuration. It bypasses the queue entirely: one attempt, result
// returned to the caller, nothing persisted.
func (e *Engine) SubmitTest(ctx context.Context, recipient string) error {
	if err := email.ValidateAddress(recipient); err != nil {
		return err
	}

	cfg, err := e.configs.Active(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active configuration: %w", err)
	}
	if cfg == nil {
		return ErrNoActiveConfig
	}

	rendered := render.RenderTemplate(&models.Template{
		Subject: testSubject,
		HTML:    testHTML,
		Text:    testText,
	}, map[string]string{
		"recipient": recipient,
		"host":      cfg.Host,
		"date":      e.now().Format(time.RFC1123),
	})

	e.logger.Info("sending test message", "recipient", recipient, "host", cfg.Host)
	return e.sender.Send(ctx, cfg, &transport.Message{
		Recipient: recipient,
		Subject:   rendered.Subject,
		HTML:      rendered.HTML,
		Text:      rendered.Text,
	})
}

// RunCycle drains all due items once, oldest schedule first. Items
// past the hourly cap stay queued and count as deferred. A missing or
// unusable configuration aborts the cycle without consuming attempts.
func (e *Engine) RunCycle(ctx context.Context) (models.CycleResult, error) {
	start := e.now()
	var res models.CycleResult

	cfg, err := e.configs.Active(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load active configuration: %w", err)
	}
	if cfg == nil {
		return res, ErrNoActiveConfig
	}

	items, err := e.queue.Due(ctx, start)
	if err != nil {
		return res, fmt.Errorf("failed to list due items: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		if !e.limiter.TryReserve(cfg.ID, cfg.RatePerHour) {
			res.Deferred++
			e.metrics.MessagesDeferredTotal.Inc()
			continue
		}

		claimed, err := e.queue.Claim(ctx, item.ID)
		if err != nil {
			e.logger.Error("failed to claim item", "id", item.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		res.Processed++

		if err := e.deliver(ctx, cfg, item, &res); err != nil {
			// The configuration itself is broken; put the claim back
			// and stop without charging the item an attempt.
			res.Processed--
			if relErr := e.queue.Release(ctx, item.ID); relErr != nil {
				e.logger.Error("failed to release claimed item", "id", item.ID, "error", relErr)
			}
			return res, err
		}
	}

	e.metrics.CyclesTotal.Inc()
	e.metrics.CycleDurationSeconds.Observe(time.Since(start).Seconds())
	e.refreshQueueGauges(ctx)

	e.logger.Info("delivery cycle finished",
		"processed", res.Processed,
		"sent", res.Sent,
		"failed", res.Failed,
		"deferred", res.Deferred,
	)
	return res, nil
}

// deliver runs one attempt for a claimed item and records the outcome.
// A non-nil return means the whole cycle must abort.
func (e *Engine) deliver(ctx context.Context, cfg *models.SMTPConfig, item *models.QueueItem, res *models.CycleResult) error {
	attempts := item.Attempts + 1
	domain := email.DomainLabel(item.Recipient)

	sendErr := e.sender.Send(ctx, cfg, &transport.Message{
		Recipient: item.Recipient,
		Subject:   item.Subject,
		HTML:      item.HTML,
		Text:      item.Text,
	})

	if sendErr == nil {
		if err := e.queue.MarkSent(ctx, item.ID, attempts); err != nil {
			e.logger.Error("failed to mark item sent", "id", item.ID, "error", err)
		}
		e.appendLog(ctx, item, models.StatusSent, "")
		res.Sent++
		e.metrics.MessagesSentTotal.WithLabelValues(domain).Inc()
		return nil
	}

	if errors.Is(sendErr, secret.ErrIntegrity) {
		return fmt.Errorf("delivery configuration unusable: %w", sendErr)
	}

	permanent := transport.IsPermanent(sendErr)
	if (permanent && e.opts.FailFastPermanent) || attempts >= item.MaxAttempts {
		if err := e.queue.MarkFailed(ctx, item.ID, attempts, sendErr.Error()); err != nil {
			e.logger.Error("failed to mark item failed", "id", item.ID, "error", err)
		}
		e.appendLog(ctx, item, models.StatusFailed, sendErr.Error())
		res.Failed++

		errorType := "transient"
		if permanent {
			errorType = "permanent"
		}
		e.metrics.MessagesFailedTotal.WithLabelValues(domain, errorType).Inc()
		e.logger.Warn("delivery failed",
			"id", item.ID,
			"recipient", item.Recipient,
			"attempts", attempts,
			"permanent", permanent,
			"error", sendErr,
		)
		return nil
	}

	delay := retryDelay(e.opts.RetryBase, e.opts.RetryCap, attempts)
	nextAt := e.now().Add(delay)
	if err := e.queue.Requeue(ctx, item.ID, attempts, nextAt, sendErr.Error()); err != nil {
		e.logger.Error("failed to requeue item", "id", item.ID, "error", err)
	}
	e.logger.Info("delivery attempt failed, will retry",
		"id", item.ID,
		"attempt", attempts,
		"max_attempts", item.MaxAttempts,
		"next_attempt_in", delay,
		"error", sendErr,
	)
	return nil
}

func (e *Engine) appendLog(ctx context.Context, item *models.QueueItem, status models.ItemStatus, detail string) {
	err := e.logs.Append(ctx, &models.LogEntry{
		ItemID:    item.ID,
		Recipient: item.Recipient,
		Status:    status,
		Detail:    detail,
	})
	if err != nil {
		e.logger.Error("failed to append delivery log", "item_id", item.ID, "error", err)
	}
}

func (e *Engine) refreshQueueGauges(ctx context.Context) {
	counts, err := e.queue.Summary(ctx)
	if err != nil {
		return
	}

	var queued, sending, failed int64
	for _, c := range counts {
		switch c.Status {
		case models.StatusQueued:
			queued = c.Count
		case models.StatusSending:
			sending = c.Count
		case models.StatusFailed:
			failed = c.Count
		}
	}
	e.metrics.QueueQueued.Set(float64(queued))
	e.metrics.QueueSending.Set(float64(sending))
	e.metrics.QueueFailed.Set(float64(failed))
}

// Message returns a queue item by id, or nil when absent.
func (e *Engine) Message(ctx context.Context, id string) (*models.QueueItem, error) {
	return e.queue.Get(ctx, id)
}

// QueueSummary returns the point-in-time count of items per status.
func (e *Engine) QueueSummary(ctx context.Context) ([]models.StatusCount, error) {
	return e.queue.Summary(ctx)
}

// Statistics returns daily sent and failed counts over the last days
// calendar days. Non-positive days defaults to seven.
func (e *Engine) Statistics(ctx context.Context, days int) ([]models.DailyCount, error) {
	if days <= 0 {
		days = 7
	}
	return e.logs.Statistics(ctx, days)
}

// RetryFailed puts every failed item back into the queue, due
// immediately, with its attempt allowance raised by the active
// configuration's max attempts.
func (e *Engine) RetryFailed(ctx context.Context) (int64, error) {
	cfg, err := e.configs.Active(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active configuration: %w", err)
	}
	if cfg == nil {
		return 0, ErrNoActiveConfig
	}

	n, err := e.queue.RetryFailed(ctx, cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("failed items requeued", "count", n)
	}
	return n, nil
}

// ClearOldLogs prunes log entries older than the given number of days
// and returns how many were removed. Non-positive days defaults to 30.
func (e *Engine) ClearOldLogs(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = 30
	}
	n, err := e.logs.Prune(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("old log entries pruned", "count", n, "older_than_days", days)
	}
	return n, nil
}
