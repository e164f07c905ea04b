package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/storage"
)

// Store is the slice of the relational store the HTTP boundary needs.
type Store interface {
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	Statistics(ctx context.Context) (storage.Statistics, error)
}

// Handler serves the public HTTP surface: subscription registration,
// aggregate statistics and a liveness ping.
type Handler struct {
	store  Store
	sender bus.Sender
	logger *slog.Logger
}

func NewHandler(store Store, sender bus.Sender, logger *slog.Logger) *Handler {
	return &Handler{store: store, sender: sender, logger: logger}
}

type subscriptionVertexInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type subscriptionInput struct {
	PhoneNumber string                    `json:"phone_number"`
	Vertices    []subscriptionVertexInput `json:"vertices"`
}

// CreateSubscription stores a new subscription and nudges the matching engine
// so the subscriber gets evaluated against recent fires right away.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var input subscriptionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if input.PhoneNumber == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	subscription := models.Subscription{PhoneNumber: input.PhoneNumber}
	for position, vertex := range input.Vertices {
		subscription.Vertices = append(subscription.Vertices, models.SubscriptionVertex{
			Position:  position,
			Latitude:  vertex.Latitude,
			Longitude: vertex.Longitude,
		})
	}

	if err := h.store.CreateSubscription(r.Context(), &subscription); err != nil {
		h.logger.Error("create subscription", "error", err)
		http.Error(w, "Failed to store subscription", http.StatusInternalServerError)
		return
	}

	payload, err := bus.EncodeTriggerMatching(bus.TriggerMatching{
		SubscriptionIDs: []uuid.UUID{subscription.ID},
	})
	if err == nil {
		err = h.sender.Send(r.Context(), bus.ChannelTriggerMatching, payload)
	}
	if err != nil {
		// The subscription is stored; the matcher's next unscoped pass will
		// pick it up even though the immediate nudge was lost.
		h.logger.Error("publish trigger_matching",
			"subscription_id", subscription.ID, "error", err)
	}

	w.WriteHeader(http.StatusCreated)
}

type statisticsFireLocationOutput struct {
	Acquired  time.Time `json:"acquired"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

type statisticsOutput struct {
	FireLocations      []statisticsFireLocationOutput `json:"fire_locations"`
	SubscriptionsCount int64                          `json:"subscriptions_count"`
	FireLocationsCount int64                          `json:"fire_locations_count"`
	MatchesCount       int64                          `json:"matches_count"`
}

// ReadStatistics serves entity counts plus the most recent fire locations.
func (h *Handler) ReadStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Statistics(r.Context())
	if err != nil {
		h.logger.Error("read statistics", "error", err)
		http.Error(w, "Failed to read statistics", http.StatusInternalServerError)
		return
	}

	output := statisticsOutput{
		FireLocations:      make([]statisticsFireLocationOutput, 0, len(stats.FireLocations)),
		SubscriptionsCount: stats.SubscriptionsCount,
		FireLocationsCount: stats.FireLocationsCount,
		MatchesCount:       stats.MatchesCount,
	}
	for _, fireLocation := range stats.FireLocations {
		output.FireLocations = append(output.FireLocations, statisticsFireLocationOutput{
			Acquired:  fireLocation.Acquired,
			Latitude:  fireLocation.Latitude,
			Longitude: fireLocation.Longitude,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(output); err != nil {
		h.logger.Error("encode statistics response", "error", err)
	}
}

func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "pong")
}
