// Package notifier is the terminal pipeline stage: it consumes
// trigger_notifying messages, selects subscriptions eligible under the
// cooldown rule and attempts one delivery per eligible subscription.
package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/observability"
)

// Cooldown is the minimum spacing between notifications for the same
// subscription. It is the sole correctness backstop against duplicated
// triggers; the bus deliberately does not deduplicate.
const Cooldown = 6 * time.Hour

// alertMessage is the fixed text delivered to every subscriber.
const alertMessage = "There have been detected several fire locations"

// Store is the slice of the relational store the dispatcher needs.
type Store interface {
	// EligibleSubscriptions returns subscriptions with at least one match
	// newer than now-cooldown (or, when matchIDs is non-empty, at least one
	// match in that set) and no notification newer than now-cooldown.
	EligibleSubscriptions(ctx context.Context, matchIDs []uuid.UUID, now time.Time, cooldown time.Duration) ([]models.Subscription, error)

	CreateSubscriptionNotification(ctx context.Context, notification *models.SubscriptionNotification) error
}

// Publisher is the outbound delivery channel. A failed publish must come back
// as an error, never a panic.
type Publisher interface {
	Publish(ctx context.Context, phoneNumber, message string) error
}

// Dispatcher delivers alerts. One instance serves one worker process; the
// publisher handle is injected once at construction and reused for the
// process lifetime.
type Dispatcher struct {
	store     Store
	publisher Publisher
	limiter   *rate.Limiter
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func New(store Store, publisher Publisher, limiter *rate.Limiter, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		limiter:   limiter,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Handle is the worker-loop entry point. Malformed payloads fall back to an
// empty scope rather than crashing the loop.
func (d *Dispatcher) Handle(ctx context.Context, payload string) {
	msg, err := bus.DecodeTriggerNotifying(payload)
	if err != nil {
		d.logger.Warn("malformed trigger_notifying payload, running unscoped pass", "error", err)
	}
	d.HandleTrigger(ctx, msg.SubscriptionMatchIDs)
}

// HandleTrigger runs one notification pass. Eligibility is evaluated once
// against the current time; an eligible subscription is notified exactly once
// per invocation no matter how many new matches it has. The pass never fails
// the caller.
func (d *Dispatcher) HandleTrigger(ctx context.Context, matchIDs []uuid.UUID) {
	d.logger.Info("start notifying")
	d.metrics.NotifyingRuns.Inc()

	subscriptions, err := d.store.EligibleSubscriptions(ctx, matchIDs, d.clock.Now().UTC(), Cooldown)
	if err != nil {
		d.logger.Error("fetch eligible subscriptions", "error", err)
		return
	}

	d.logger.Info("notifying subscriptions", "subscriptions", len(subscriptions))

	for i := range subscriptions {
		d.notify(ctx, &subscriptions[i])
	}

	d.logger.Info("finish notifying")
}

// notify attempts one delivery and records it on success. A failure for one
// subscriber is logged and isolated; it is never retried within the pass (the
// subscription stays eligible, so the next trigger retries naturally).
func (d *Dispatcher) notify(ctx context.Context, subscription *models.Subscription) {
	if err := d.limiter.Wait(ctx); err != nil {
		d.logger.Warn("delivery rate limiter interrupted",
			"subscription_id", subscription.ID, "error", err)
		return
	}

	if err := d.publisher.Publish(ctx, subscription.PhoneNumber, alertMessage); err != nil {
		d.logger.Error("notify subscription",
			"subscription_id", subscription.ID, "error", err)
		d.metrics.DeliveryFailures.Inc()
		return
	}

	notification := models.SubscriptionNotification{SubscriptionID: subscription.ID}
	if err := d.store.CreateSubscriptionNotification(ctx, &notification); err != nil {
		d.logger.Error("record notification",
			"subscription_id", subscription.ID, "error", err)
		return
	}

	d.logger.Info("notified subscription", "subscription_id", subscription.ID)
	d.metrics.NotificationsSent.Inc()
}
