// Package storage is the gorm-backed implementation of every store interface
// the pipeline stages consume. Writes that belong to one subscription commit
// in their own transaction, so a mid-batch crash loses at most the in-flight
// subscription's update.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/emberwatch/emberwatch-backend/internal/models"
)

type Storage struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

// FireLocationsByHarvests returns every fire location introduced by the given
// ingestion runs.
func (s *Storage) FireLocationsByHarvests(ctx context.Context, harvestIDs []uuid.UUID) ([]models.FireLocation, error) {
	var fireLocations []models.FireLocation
	err := s.db.WithContext(ctx).
		Where("dataset_harvest_id IN ?", harvestIDs).
		Find(&fireLocations).Error
	return fireLocations, err
}

// FireLocationsSince returns every fire location created at or after cutoff.
func (s *Storage) FireLocationsSince(ctx context.Context, cutoff time.Time) ([]models.FireLocation, error) {
	var fireLocations []models.FireLocation
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", cutoff).
		Find(&fireLocations).Error
	return fireLocations, err
}

// SubscriptionsWithMatchHistory eagerly loads the ordered vertex ring and the
// complete match history of the given subscriptions, or of all subscriptions
// when no ids are given.
func (s *Storage) SubscriptionsWithMatchHistory(ctx context.Context, subscriptionIDs []uuid.UUID) ([]models.Subscription, error) {
	query := s.db.WithContext(ctx).
		Preload("Vertices", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Matches.FireLocations")

	if len(subscriptionIDs) > 0 {
		query = query.Where("id IN ?", subscriptionIDs)
	}

	var subscriptions []models.Subscription
	err := query.Find(&subscriptions).Error
	return subscriptions, err
}

// CreateSubscriptionMatch persists one match and its join rows in a single
// transaction.
func (s *Storage) CreateSubscriptionMatch(ctx context.Context, match *models.SubscriptionMatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(match).Error
	})
}

// EligibleSubscriptions applies the cooldown rule: a subscription qualifies
// when it has a qualifying match (newer than now-cooldown, or in the given id
// set) and no notification newer than now-cooldown. Having never been
// notified also qualifies.
func (s *Storage) EligibleSubscriptions(ctx context.Context, matchIDs []uuid.UUID, now time.Time, cooldown time.Duration) ([]models.Subscription, error) {
	cutoff := now.Add(-cooldown)

	query := s.db.WithContext(ctx).
		Distinct("subscriptions.*").
		Joins("JOIN subscription_matches ON subscription_matches.subscription_id = subscriptions.id").
		Where("NOT EXISTS (SELECT 1 FROM subscription_notifications"+
			" WHERE subscription_notifications.subscription_id = subscriptions.id"+
			" AND subscription_notifications.created_at > ?)", cutoff)

	if len(matchIDs) > 0 {
		query = query.Where("subscription_matches.id IN ?", matchIDs)
	} else {
		query = query.Where("subscription_matches.created_at >= ?", cutoff)
	}

	var subscriptions []models.Subscription
	err := query.Find(&subscriptions).Error
	return subscriptions, err
}

// CreateSubscriptionNotification records one delivered alert.
func (s *Storage) CreateSubscriptionNotification(ctx context.Context, notification *models.SubscriptionNotification) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(notification).Error
	})
}

// DatasetByURL returns the dataset for a source URL with its harvests and
// their fire locations preloaded, or nil when the source was never harvested.
func (s *Storage) DatasetByURL(ctx context.Context, url string) (*models.Dataset, error) {
	var dataset models.Dataset
	err := s.db.WithContext(ctx).
		Preload("Harvests.FireLocations").
		Where("url = ?", url).
		First(&dataset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

// CreateDataset registers a new source URL.
func (s *Storage) CreateDataset(ctx context.Context, dataset *models.Dataset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(dataset).Error
	})
}

// CreateDatasetHarvest persists one ingestion run and its fire locations.
func (s *Storage) CreateDatasetHarvest(ctx context.Context, harvest *models.DatasetHarvest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(harvest).Error
	})
}

// CreateSubscription persists a subscription and its vertex ring.
func (s *Storage) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(subscription).Error
	})
}

// Statistics is the aggregate snapshot the HTTP boundary serves.
type Statistics struct {
	SubscriptionsCount int64
	FireLocationsCount int64
	MatchesCount       int64
	FireLocations      []models.FireLocation
}

// Statistics counts the main entities and returns the five most recently
// reported fire locations.
func (s *Storage) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics

	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).Count(&stats.SubscriptionsCount).Error; err != nil {
		return Statistics{}, err
	}
	if err := s.db.WithContext(ctx).Model(&models.FireLocation{}).Count(&stats.FireLocationsCount).Error; err != nil {
		return Statistics{}, err
	}
	if err := s.db.WithContext(ctx).Model(&models.SubscriptionMatch{}).Count(&stats.MatchesCount).Error; err != nil {
		return Statistics{}, err
	}

	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("acquired DESC").
		Order("latitude ASC").
		Order("longitude ASC").
		Limit(5).
		Find(&stats.FireLocations).Error
	if err != nil {
		return Statistics{}, err
	}

	return stats, nil
}
