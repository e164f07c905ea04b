// Package matcher decides which new fire observations affect which
// subscriptions. It consumes trigger_matching messages, computes new
// point-in-polygon matches, persists them one subscription at a time and
// republishes a trigger_notifying message for whatever it produced.
package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/geo"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/observability"
)

// CandidateWindow bounds the unscoped fire-location scan: without explicit
// harvest ids, only observations created in the trailing 24 hours are
// considered.
const CandidateWindow = 24 * time.Hour

// Store is the slice of the relational store the engine needs. Each
// CreateSubscriptionMatch call commits in its own transaction so one
// subscription's failure cannot roll back another's.
type Store interface {
	FireLocationsByHarvests(ctx context.Context, harvestIDs []uuid.UUID) ([]models.FireLocation, error)
	FireLocationsSince(ctx context.Context, cutoff time.Time) ([]models.FireLocation, error)

	// SubscriptionsWithMatchHistory returns the given subscriptions (or all,
	// when ids is empty) with vertices and full match history eagerly loaded.
	SubscriptionsWithMatchHistory(ctx context.Context, subscriptionIDs []uuid.UUID) ([]models.Subscription, error)

	CreateSubscriptionMatch(ctx context.Context, match *models.SubscriptionMatch) error
}

// Engine is the matching engine. One instance serves one worker process.
type Engine struct {
	store   Store
	sender  bus.Sender
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(store Store, sender bus.Sender, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		sender:  sender,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Handle is the worker-loop entry point. Malformed payloads fall back to an
// empty scope rather than crashing the loop.
func (e *Engine) Handle(ctx context.Context, payload string) {
	msg, err := bus.DecodeTriggerMatching(payload)
	if err != nil {
		e.logger.Warn("malformed trigger_matching payload, running unscoped pass", "error", err)
	}
	e.HandleTrigger(ctx, msg.SubscriptionIDs, msg.DatasetHarvestIDs)
}

// HandleTrigger runs one matching pass. It never fails the caller: internal
// errors are logged and the pass proceeds as far as it can.
func (e *Engine) HandleTrigger(ctx context.Context, subscriptionIDs, datasetHarvestIDs []uuid.UUID) {
	e.logger.Info("start matching")
	e.metrics.MatchingRuns.Inc()

	fireLocations, err := e.candidateFireLocations(ctx, datasetHarvestIDs)
	if err != nil {
		e.logger.Error("fetch fire locations", "error", err)
		e.metrics.MatchingErrors.Inc()
		return
	}

	subscriptions, err := e.store.SubscriptionsWithMatchHistory(ctx, subscriptionIDs)
	if err != nil {
		e.logger.Error("fetch subscriptions", "error", err)
		e.metrics.MatchingErrors.Inc()
		return
	}

	e.logger.Info("matching candidates loaded",
		"subscriptions", len(subscriptions),
		"fire_locations", len(fireLocations))

	var newMatchIDs []uuid.UUID
	for i := range subscriptions {
		subscription := &subscriptions[i]

		matchID, matched, err := e.matchSubscription(ctx, subscription, fireLocations)
		if err != nil {
			e.logger.Error("match subscription",
				"subscription_id", subscription.ID, "error", err)
			e.metrics.MatchingErrors.Inc()
			continue
		}
		if matched == 0 {
			continue
		}

		e.logger.Info("subscription matched new fire locations",
			"subscription_id", subscription.ID, "fire_locations", matched)
		e.metrics.MatchesProduced.Inc()
		e.metrics.FireLocationsMatched.Add(float64(matched))
		newMatchIDs = append(newMatchIDs, matchID)
	}

	if len(newMatchIDs) > 0 {
		e.publishTriggerNotifying(ctx, newMatchIDs)
	}

	e.logger.Info("finish matching", "new_matches", len(newMatchIDs))
}

func (e *Engine) candidateFireLocations(ctx context.Context, harvestIDs []uuid.UUID) ([]models.FireLocation, error) {
	if len(harvestIDs) > 0 {
		return e.store.FireLocationsByHarvests(ctx, harvestIDs)
	}
	return e.store.FireLocationsSince(ctx, e.clock.Now().UTC().Add(-CandidateWindow))
}

// matchSubscription tests every not-yet-matched candidate against the
// subscription's polygon and persists the result if anything was contained.
// An empty match is discarded without touching storage.
func (e *Engine) matchSubscription(ctx context.Context, subscription *models.Subscription, fireLocations []models.FireLocation) (uuid.UUID, int, error) {
	points := make([]orb.Point, 0, len(subscription.Vertices))
	for _, vertex := range subscription.Vertices {
		points = append(points, orb.Point{vertex.Latitude, vertex.Longitude})
	}
	polygon := geo.PolygonFromPoints(points)

	alreadyMatched := make(map[uuid.UUID]struct{})
	for _, match := range subscription.Matches {
		for _, matchFireLocation := range match.FireLocations {
			alreadyMatched[matchFireLocation.FireLocationID] = struct{}{}
		}
	}

	match := models.SubscriptionMatch{SubscriptionID: subscription.ID}
	for _, fireLocation := range fireLocations {
		if _, seen := alreadyMatched[fireLocation.ID]; seen {
			continue
		}
		if geo.Contains(polygon, fireLocation.Latitude, fireLocation.Longitude) {
			match.FireLocations = append(match.FireLocations, models.SubscriptionMatchFireLocation{
				FireLocationID: fireLocation.ID,
			})
		}
	}

	if len(match.FireLocations) == 0 {
		return uuid.Nil, 0, nil
	}

	if err := e.store.CreateSubscriptionMatch(ctx, &match); err != nil {
		return uuid.Nil, 0, err
	}
	return match.ID, len(match.FireLocations), nil
}

func (e *Engine) publishTriggerNotifying(ctx context.Context, matchIDs []uuid.UUID) {
	payload, err := bus.EncodeTriggerNotifying(bus.TriggerNotifying{SubscriptionMatchIDs: matchIDs})
	if err == nil {
		err = e.sender.Send(ctx, bus.ChannelTriggerNotifying, payload)
	}
	if err != nil {
		e.logger.Error("publish trigger_notifying", "error", err)
	}
}
