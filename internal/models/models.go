package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base carries the id and timestamp columns shared by every entity. The
// BeforeCreate hook assigns the uuid client-side so that ids are known before
// the row is committed (the matcher publishes freshly created match ids).
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Subscription is a phone number plus the polygon it wants fire alerts for.
// It owns its vertices, matches and notifications; it is created by the HTTP
// boundary and only ever grows by appended matches and notifications.
type Subscription struct {
	Base
	PhoneNumber   string                     `gorm:"not null" json:"phone_number"`
	Vertices      []SubscriptionVertex       `gorm:"foreignKey:SubscriptionID" json:"vertices"`
	Matches       []SubscriptionMatch        `gorm:"foreignKey:SubscriptionID" json:"-"`
	Notifications []SubscriptionNotification `gorm:"foreignKey:SubscriptionID" json:"-"`
}

// SubscriptionVertex is one corner of a subscription's polygon. Position
// preserves the ring order the client supplied.
type SubscriptionVertex struct {
	Base
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	Position       int       `gorm:"not null" json:"-"`
	Latitude       float64   `gorm:"not null" json:"latitude"`
	Longitude      float64   `gorm:"not null" json:"longitude"`
}

// SubscriptionMatch records one matching pass's result for one subscription.
// A match with zero fire locations is never persisted.
type SubscriptionMatch struct {
	Base
	SubscriptionID uuid.UUID                       `gorm:"type:uuid;not null;index" json:"subscription_id"`
	FireLocations  []SubscriptionMatchFireLocation `gorm:"foreignKey:SubscriptionMatchID" json:"fire_locations"`
}

// SubscriptionMatchFireLocation binds one fire location to one match. Its
// existence is the "already alerted on this fire for this subscriber" marker
// that deduplicates future matching passes.
type SubscriptionMatchFireLocation struct {
	Base
	SubscriptionMatchID uuid.UUID `gorm:"type:uuid;not null;index" json:"subscription_match_id"`
	FireLocationID      uuid.UUID `gorm:"type:uuid;not null;index" json:"fire_location_id"`
}

// SubscriptionNotification records that an alert was successfully delivered.
// The timestamp is its only payload; the dispatcher's cooldown rule reads it.
type SubscriptionNotification struct {
	Base
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;index" json:"subscription_id"`
}

// Dataset is one upstream fire-data source URL.
type Dataset struct {
	Base
	URL      string           `gorm:"not null;uniqueIndex" json:"url"`
	Harvests []DatasetHarvest `gorm:"foreignKey:DatasetID" json:"-"`
}

// DatasetHarvest is a single ingestion run against one dataset; it owns the
// fire locations that run introduced.
type DatasetHarvest struct {
	Base
	DatasetID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"dataset_id"`
	FireLocations []FireLocation `gorm:"foreignKey:DatasetHarvestID" json:"-"`
}

// FireLocation is one observed fire point. Raw keeps the source CSV row for
// audit; it is never interpreted after ingestion.
type FireLocation struct {
	Base
	DatasetHarvestID uuid.UUID      `gorm:"type:uuid;not null;index" json:"dataset_harvest_id"`
	Latitude         float64        `gorm:"not null" json:"latitude"`
	Longitude        float64        `gorm:"not null" json:"longitude"`
	Acquired         time.Time      `gorm:"not null" json:"acquired"`
	Raw              datatypes.JSON `json:"-"`
}

func (Subscription) TableName() string                  { return "subscriptions" }
func (SubscriptionVertex) TableName() string            { return "subscription_vertices" }
func (SubscriptionMatch) TableName() string             { return "subscription_matches" }
func (SubscriptionMatchFireLocation) TableName() string { return "subscription_match_fire_locations" }
func (SubscriptionNotification) TableName() string      { return "subscription_notifications" }
func (Dataset) TableName() string                       { return "datasets" }
func (DatasetHarvest) TableName() string                { return "dataset_harvests" }
func (FireLocation) TableName() string                  { return "fire_locations" }

// Migrate creates or updates every table the backend uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Dataset{},
		&DatasetHarvest{},
		&FireLocation{},
		&Subscription{},
		&SubscriptionVertex{},
		&SubscriptionMatch{},
		&SubscriptionMatchFireLocation{},
		&SubscriptionNotification{},
	)
}
