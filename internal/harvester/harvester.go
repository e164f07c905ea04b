// Package harvester ingests upstream active-fire CSV feeds. Each run
// downloads every configured source, persists the rows not seen before as a
// new dataset harvest and publishes a trigger_matching message for it.
package harvester

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/config"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/observability"
)

// Store is the slice of the relational store the harvester needs.
type Store interface {
	DatasetByURL(ctx context.Context, url string) (*models.Dataset, error)
	CreateDataset(ctx context.Context, dataset *models.Dataset) error
	CreateDatasetHarvest(ctx context.Context, harvest *models.DatasetHarvest) error
}

type Harvester struct {
	store   Store
	sender  bus.Sender
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(store Store, sender bus.Sender, client *http.Client, logger *slog.Logger, metrics *observability.Metrics) *Harvester {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Harvester{
		store:   store,
		sender:  sender,
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// Run harvests every source. A failing source does not stop the others; the
// joined error reports all failures.
func (h *Harvester) Run(ctx context.Context, sources []config.DatasetSource) error {
	var errs []error
	for _, source := range sources {
		if err := h.HarvestSource(ctx, source.URL); err != nil {
			h.logger.Error("harvest source", "url", source.URL, "error", err)
			errs = append(errs, fmt.Errorf("harvest %s: %w", source.URL, err))
		}
	}
	return errors.Join(errs...)
}

// HarvestSource ingests one feed: find or create its dataset, download the
// CSV, keep only observations not already reported for this dataset and
// publish a trigger_matching message carrying the new harvest id.
func (h *Harvester) HarvestSource(ctx context.Context, url string) error {
	h.metrics.HarvestRuns.Inc()

	dataset, err := h.store.DatasetByURL(ctx, url)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if dataset == nil {
		h.logger.Info("create new dataset", "url", url)
		dataset = &models.Dataset{URL: url}
		if err := h.store.CreateDataset(ctx, dataset); err != nil {
			return fmt.Errorf("create dataset: %w", err)
		}
	}

	// Observations already reported in any earlier harvest of this dataset,
	// keyed by position and acquisition time.
	reported := make(map[observationKey]struct{})
	for _, harvest := range dataset.Harvests {
		for _, fireLocation := range harvest.FireLocations {
			reported[keyOf(fireLocation.Latitude, fireLocation.Longitude, fireLocation.Acquired)] = struct{}{}
		}
	}

	h.logger.Info("download dataset", "url", url, "dataset_id", dataset.ID, "reported", len(reported))

	observations, err := h.download(ctx, url)
	if err != nil {
		return err
	}

	harvest := models.DatasetHarvest{DatasetID: dataset.ID}
	for _, observation := range observations {
		if _, seen := reported[keyOf(observation.Latitude, observation.Longitude, observation.Acquired)]; seen {
			continue
		}
		harvest.FireLocations = append(harvest.FireLocations, observation)
	}

	h.logger.Info("persist harvest",
		"dataset_id", dataset.ID, "new_fire_locations", len(harvest.FireLocations))

	if err := h.store.CreateDatasetHarvest(ctx, &harvest); err != nil {
		return fmt.Errorf("create harvest: %w", err)
	}
	h.metrics.FireLocationsIngested.Add(float64(len(harvest.FireLocations)))

	payload, err := bus.EncodeTriggerMatching(bus.TriggerMatching{
		DatasetHarvestIDs: []uuid.UUID{harvest.ID},
	})
	if err == nil {
		err = h.sender.Send(ctx, bus.ChannelTriggerMatching, payload)
	}
	if err != nil {
		return fmt.Errorf("publish trigger_matching: %w", err)
	}

	return nil
}

func (h *Harvester) download(ctx context.Context, url string) ([]models.FireLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	return parseObservations(resp.Body)
}

type observationKey struct {
	latitude  float64
	longitude float64
	acquired  int64
}

func keyOf(latitude, longitude float64, acquired time.Time) observationKey {
	return observationKey{latitude: latitude, longitude: longitude, acquired: acquired.UTC().Unix()}
}

// parseObservations reads a FIRMS active-fire CSV. Rows missing the required
// columns are rejected; the full row is retained as the audit payload.
func parseObservations(r io.Reader) ([]models.FireLocation, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"latitude", "longitude", "acq_date", "acq_time"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("csv is missing required column %q", required)
		}
	}

	var observations []models.FireLocation
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		latitude, err := strconv.ParseFloat(record[columns["latitude"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse latitude %q: %w", record[columns["latitude"]], err)
		}
		longitude, err := strconv.ParseFloat(record[columns["longitude"]], 64)
		if err != nil {
			return nil, fmt.Errorf("parse longitude %q: %w", record[columns["longitude"]], err)
		}

		acquired, err := parseAcquired(record[columns["acq_date"]], record[columns["acq_time"]])
		if err != nil {
			return nil, err
		}

		raw := make(map[string]string, len(header))
		for name, index := range columns {
			if index < len(record) {
				raw[name] = record[index]
			}
		}
		rawJSON, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode raw row: %w", err)
		}

		observations = append(observations, models.FireLocation{
			Latitude:  latitude,
			Longitude: longitude,
			Acquired:  acquired,
			Raw:       rawJSON,
		})
	}

	return observations, nil
}

// parseAcquired combines the FIRMS acq_date ("2006-01-02") and acq_time
// ("HHMM", sometimes without leading zeros) fields into a UTC timestamp.
func parseAcquired(date, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	for len(clock) < 4 {
		clock = "0" + clock
	}

	acquired, err := time.Parse("2006-01-02 1504", strings.TrimSpace(date)+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse acquisition time %q %q: %w", date, clock, err)
	}
	return acquired, nil
}
