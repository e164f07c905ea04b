package harvester_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/emberwatch/emberwatch-backend/internal/bus"
	"github.com/emberwatch/emberwatch-backend/internal/config"
	"github.com/emberwatch/emberwatch-backend/internal/harvester"
	"github.com/emberwatch/emberwatch-backend/internal/models"
	"github.com/emberwatch/emberwatch-backend/internal/observability"
	"github.com/emberwatch/emberwatch-backend/internal/storage"
)

const feedHeader = "latitude,longitude,brightness,acq_date,acq_time,confidence\n"

type recordingSender struct {
	channels []string
	payloads []string
}

func (s *recordingSender) Send(_ context.Context, channel, payload string) error {
	s.channels = append(s.channels, channel)
	s.payloads = append(s.payloads, payload)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

func newHarvester(store *storage.Storage, sender *recordingSender) *harvester.Harvester {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return harvester.New(store, sender, nil, logger, observability.New(prometheus.NewRegistry()))
}

func feedServer(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(*body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHarvestSource_IngestsNewObservations(t *testing.T) {
	body := feedHeader +
		"10.5,-120.25,330.1,2026-08-30,0136,85\n" +
		"11.0,-121.00,310.4,2026-08-30,1452,60\n"
	server := feedServer(t, &body)

	store := storage.New(openTestDB(t))
	sender := &recordingSender{}
	h := newHarvester(store, sender)

	require.NoError(t, h.HarvestSource(context.Background(), server.URL))

	dataset, err := store.DatasetByURL(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotNil(t, dataset)
	require.Len(t, dataset.Harvests, 1)
	fires := dataset.Harvests[0].FireLocations
	require.Len(t, fires, 2)

	assert.Equal(t, 10.5, fires[0].Latitude)
	assert.Equal(t, -120.25, fires[0].Longitude)
	assert.Equal(t, time.Date(2026, 8, 30, 1, 36, 0, 0, time.UTC), fires[0].Acquired)
	assert.NotEmpty(t, fires[0].Raw, "the source row is kept for audit")

	require.Len(t, sender.channels, 1)
	assert.Equal(t, bus.ChannelTriggerMatching, sender.channels[0])
	msg, err := bus.DecodeTriggerMatching(sender.payloads[0])
	require.NoError(t, err)
	require.Len(t, msg.DatasetHarvestIDs, 1)
	assert.Equal(t, dataset.Harvests[0].ID, msg.DatasetHarvestIDs[0])
	assert.Empty(t, msg.SubscriptionIDs)
}

func TestHarvestSource_ReportedObservationsAreSkipped(t *testing.T) {
	body := feedHeader + "10.5,-120.25,330.1,2026-08-30,0136,85\n"
	server := feedServer(t, &body)

	store := storage.New(openTestDB(t))
	sender := &recordingSender{}
	h := newHarvester(store, sender)

	require.NoError(t, h.HarvestSource(context.Background(), server.URL))

	// Second run: the same row plus one new one. Only the new row lands.
	body = feedHeader +
		"10.5,-120.25,331.9,2026-08-30,0136,90\n" +
		"12.0,-119.00,305.0,2026-08-30,2005,44\n"

	require.NoError(t, h.HarvestSource(context.Background(), server.URL))

	dataset, err := store.DatasetByURL(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, dataset.Harvests, 2)

	total := 0
	for _, harvest := range dataset.Harvests {
		total += len(harvest.FireLocations)
	}
	assert.Equal(t, 2, total, "a reported (lat, lon, acquired) triple is never re-ingested")

	// Every run publishes its harvest, even when nothing new arrived.
	assert.Len(t, sender.channels, 2)
}

func TestHarvestSource_EmptyHarvestStillPublished(t *testing.T) {
	body := feedHeader + "10.5,-120.25,330.1,2026-08-30,0136,85\n"
	server := feedServer(t, &body)

	store := storage.New(openTestDB(t))
	sender := &recordingSender{}
	h := newHarvester(store, sender)

	require.NoError(t, h.HarvestSource(context.Background(), server.URL))
	require.NoError(t, h.HarvestSource(context.Background(), server.URL))

	dataset, err := store.DatasetByURL(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, dataset.Harvests, 2)
	require.Len(t, sender.channels, 2)

	msg, err := bus.DecodeTriggerMatching(sender.payloads[1])
	require.NoError(t, err)
	require.Len(t, msg.DatasetHarvestIDs, 1)
}

func TestHarvestSource_ShortClockValuesArePadded(t *testing.T) {
	body := feedHeader + "10.5,-120.25,330.1,2026-08-30,54,85\n"
	server := feedServer(t, &body)

	store := storage.New(openTestDB(t))
	h := newHarvester(store, &recordingSender{})

	require.NoError(t, h.HarvestSource(context.Background(), server.URL))

	dataset, err := store.DatasetByURL(context.Background(), server.URL)
	require.NoError(t, err)
	fires := dataset.Harvests[0].FireLocations
	require.Len(t, fires, 1)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 54, 0, 0, time.UTC), fires[0].Acquired)
}

func TestHarvestSource_MissingColumnFails(t *testing.T) {
	body := "latitude,longitude,acq_date\n10.5,-120.25,2026-08-30\n"
	server := feedServer(t, &body)

	store := storage.New(openTestDB(t))
	h := newHarvester(store, &recordingSender{})

	err := h.HarvestSource(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acq_time")
}

func TestHarvestSource_UpstreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	store := storage.New(openTestDB(t))
	h := newHarvester(store, &recordingSender{})

	require.Error(t, h.HarvestSource(context.Background(), server.URL))

	dataset, err := store.DatasetByURL(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotNil(t, dataset)
	assert.Empty(t, dataset.Harvests, "a failed download records no harvest")
}

func TestRun_OneFailingSourceDoesNotStopOthers(t *testing.T) {
	goodBody := feedHeader + "10.5,-120.25,330.1,2026-08-30,0136,85\n"
	good := feedServer(t, &goodBody)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	store := storage.New(openTestDB(t))
	sender := &recordingSender{}
	h := newHarvester(store, sender)

	err := h.Run(context.Background(), []config.DatasetSource{
		{URL: bad.URL},
		{URL: good.URL},
	})
	require.Error(t, err, "the joined error reports the failing source")

	dataset, derr := store.DatasetByURL(context.Background(), good.URL)
	require.NoError(t, derr)
	require.NotNil(t, dataset)
	require.Len(t, dataset.Harvests, 1, "the healthy source is still harvested")
	assert.Len(t, sender.channels, 1)
}
