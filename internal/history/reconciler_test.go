package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-client/internal/clock"
	"github.com/example/ride-client/internal/geocode"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

type fakeBackend struct {
	records  []models.HistoryRecord
	histErr  error
	profiles map[string]models.UserProfile

	mu       sync.Mutex
	lookups  map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (f *fakeBackend) RideHistory(context.Context, string) ([]models.HistoryRecord, error) {
	return f.records, f.histErr
}

func (f *fakeBackend) GetUser(ctx context.Context, id string) (models.UserProfile, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.UserProfile{}, ctx.Err()
		}
	}
	f.mu.Lock()
	if f.lookups == nil {
		f.lookups = map[string]int{}
	}
	f.lookups[id]++
	f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return models.UserProfile{}, errors.New("Erro 404: Not Found")
}

type coordGeocoder struct{}

// Addresses resolve only for positive latitudes.
func (coordGeocoder) Reverse(_ context.Context, at models.Coord) (string, error) {
	if at.Lat > 0 {
		return fmt.Sprintf("Rua %.0f", at.Lat), nil
	}
	return "", errors.New("non-OK")
}

var now = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func record(id, driverID string, date models.FlexTime, status models.RideStatus) models.HistoryRecord {
	return models.HistoryRecord{
		ID:     models.ID(id),
		Status: status,
		Role:   models.RolePassenger,
		Ride: &models.Ride{
			ID:                models.ID("ride-" + id),
			DriverID:          driverID,
			DepartureLatLng:   models.LatLng{1, 1},
			DestinationLatLng: models.LatLng{-1, -1},
			Date:              date,
			StartTime:         "08:00",
			AllSeats:          4,
			AvailableSeats:    1,
			PricePerPassenger: 12.5,
		},
	}
}

func newReconciler(b *fakeBackend, limit int) *Reconciler {
	return New(Options{
		Backend:     b,
		Geocoder:    coordGeocoder{},
		Concurrency: limit,
		Clock:       clock.Fake(now),
		Location:    time.FixedZone("BRT", -3*3600),
	})
}

func TestFetchKeepsEveryRecordAndNamesEveryDriver(t *testing.T) {
	b := &fakeBackend{
		records: []models.HistoryRecord{
			record("h1", "driver-abcdef-1", models.PlainDate(2025, 3, 1), models.StatusPending),
			record("h2", "driver-known", models.PlainDate(2025, 3, 2), models.StatusCompleted),
			record("h3", "driver-abcdef-1", models.PlainDate(2025, 3, 3), ""),
			record("h4", "", models.PlainDate(2025, 3, 4), models.StatusCanceled),
			record("h5", "nameless", models.PlainDate(2025, 3, 5), models.StatusConfirmed),
		},
		profiles: map[string]models.UserProfile{
			"driver-known": {ID: "driver-known", FirstName: "Ana", LastName: "Lima", Phone: "11999"},
			"nameless":     {ID: "nameless"},
		},
	}
	entries, err := newReconciler(b, 2).Fetch(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 5)

	byID := map[string]models.RideHistoryEntry{}
	for _, e := range entries {
		assert.NotEmpty(t, e.DriverName, e.ID)
		byID[e.ID] = e
	}
	assert.Equal(t, "Motorista driver", byID["h1"].DriverName)
	assert.Equal(t, "Ana Lima", byID["h2"].DriverName)
	assert.Equal(t, "11999", byID["h2"].DriverPhone)
	assert.Equal(t, "Motorista N/A", byID["h4"].DriverName)
	assert.Equal(t, "Motorista namele", byID["h5"].DriverName)
	assert.Equal(t, models.StatusPending, byID["h3"].Status)

	assert.Equal(t, 1, b.lookups["driver-abcdef-1"], "distinct drivers are looked up once")
	assert.NotContains(t, b.lookups, "")
}

func TestFetchDegradesAddressesAndFormats(t *testing.T) {
	b := &fakeBackend{records: []models.HistoryRecord{record("h1", "d", models.PlainDate(2025, 3, 9), models.StatusCompleted)}}
	entries, err := newReconciler(b, 0).Fetch(context.Background(), "u1")
	require.NoError(t, err)
	e := entries[0]
	assert.Equal(t, "Rua 1", e.DepartureAddress)
	assert.Equal(t, geocode.Unavailable, e.ArrivalAddress)
	assert.Equal(t, "09/03/2025", e.DateDisplay)
	assert.Equal(t, "R$ 12,50", e.PriceDisplay)
	assert.Equal(t, "08:00", e.DepartureTime)
	assert.Equal(t, "--:--", e.ArrivalTime)
	assert.Equal(t, 3, e.BookedSeats)
	assert.Equal(t, "ride-h1", e.RideID)
}

func TestFetchSortsMostRecentFirst(t *testing.T) {
	created := models.Instant(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	noDate := record("created", "d", models.FlexTime{}, models.StatusPending)
	noDate.CreatedAt = created
	nothing := record("now", "d", models.FlexTime{}, models.StatusPending)

	b := &fakeBackend{records: []models.HistoryRecord{
		record("old", "d", models.PlainDate(2024, 12, 31), models.StatusPending),
		noDate,
		record("iso", "d", mustFlex(t, "2025-06-01T10:00:00Z"), models.StatusPending),
		nothing,
		record("plain", "d", models.PlainDate(2025, 5, 20), models.StatusPending),
	}}
	entries, err := newReconciler(b, 3).Fetch(context.Background(), "u1")
	require.NoError(t, err)

	var ids []string
	for i, e := range entries {
		ids = append(ids, e.ID)
		if i > 0 {
			assert.False(t, e.SortTimestamp.After(entries[i-1].SortTimestamp))
		}
	}
	assert.Equal(t, []string{"now", "iso", "plain", "created", "old"}, ids)

	for _, e := range entries {
		switch e.ID {
		case "created":
			assert.True(t, e.SortTimestamp.Equal(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)))
			assert.Equal(t, "", e.DateDisplay)
		case "now":
			assert.True(t, e.SortTimestamp.Equal(now))
		}
	}
}

func mustFlex(t *testing.T, s string) models.FlexTime {
	t.Helper()
	f, ok := models.ParseFlexString(s)
	require.True(t, ok)
	return f
}

func TestPlainDateDisplayIgnoresZoneOffset(t *testing.T) {
	b := &fakeBackend{records: []models.HistoryRecord{record("h1", "d", models.PlainDate(2025, 1, 1), models.StatusPending)}}
	for _, loc := range []*time.Location{time.FixedZone("W", -11*3600), time.FixedZone("E", 13*3600)} {
		r := New(Options{Backend: b, Geocoder: coordGeocoder{}, Clock: clock.Fake(now), Location: loc})
		entries, err := r.Fetch(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "01/01/2025", entries[0].DateDisplay)
	}
}

func TestInstantDatesDisplayInViewerZone(t *testing.T) {
	rec := record("h1", "d", mustFlex(t, "2025-03-10T01:00:00.000Z"), models.StatusPending)
	rec.CreatedAt = models.Instant(time.Unix(1741568400, 0))
	b := &fakeBackend{records: []models.HistoryRecord{rec}}

	entries, err := newReconciler(b, 1).Fetch(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "09/03/2025", entries[0].DateDisplay)
	assert.Equal(t, "09/03/2025", entries[0].BookingDate)
}

func TestFetchErrorIsReturned(t *testing.T) {
	b := &fakeBackend{histErr: errors.New("Erro de conexão. Verifique sua internet e tente novamente.")}
	_, err := newReconciler(b, 1).Fetch(context.Background(), "u1")
	assert.Error(t, err)
}

func TestLookupsRespectConcurrencyLimit(t *testing.T) {
	var recs []models.HistoryRecord
	for i := 0; i < 20; i++ {
		recs = append(recs, record(fmt.Sprint(i), fmt.Sprintf("driver-%02d", i), models.PlainDate(2025, 1, 1+i), models.StatusPending))
	}
	b := &fakeBackend{records: recs, delay: 5 * time.Millisecond}
	entries, err := newReconciler(b, 3).Fetch(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
	assert.LessOrEqual(t, b.maxSeen.Load(), int32(3))
}

func fetchSamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.HistoryFetchDuration.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestRecentRecordsFetchLatency(t *testing.T) {
	b := &fakeBackend{records: []models.HistoryRecord{record("c1", "d", models.PlainDate(2025, 1, 1), models.StatusCompleted)}}
	before := fetchSamples(t)
	_, err := newReconciler(b, 1).Recent(context.Background(), "u1", 3)
	require.NoError(t, err)
	assert.Equal(t, before+1, fetchSamples(t))

	b.histErr = errors.New("Erro 500")
	_, err = newReconciler(b, 1).Recent(context.Background(), "u1", 3)
	require.Error(t, err)
	assert.Equal(t, before+2, fetchSamples(t))
}

func TestRecentKeepsTopCompleted(t *testing.T) {
	b := &fakeBackend{records: []models.HistoryRecord{
		record("c1", "d", models.PlainDate(2025, 1, 1), models.StatusCompleted),
		record("p1", "d", models.PlainDate(2025, 8, 1), models.StatusPending),
		record("c2", "d", models.PlainDate(2025, 2, 1), models.StatusCompleted),
		record("c3", "d", models.PlainDate(2025, 3, 1), models.StatusCompleted),
		record("c4", "d", models.PlainDate(2025, 4, 1), models.StatusCompleted),
	}}
	entries, err := newReconciler(b, 2).Recent(context.Background(), "u1", 3)
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
		assert.Equal(t, "dd/mm/yyyy", dateShape(e.DateDisplay))
	}
	assert.Equal(t, []string{"c4", "c3", "c2"}, ids)
}

func dateShape(s string) string {
	if len(s) == 10 && s[2] == '/' && s[5] == '/' {
		return "dd/mm/yyyy"
	}
	return s
}

func TestCanceledFetchReturnsContextError(t *testing.T) {
	b := &fakeBackend{
		records: []models.HistoryRecord{record("h1", "slow", models.PlainDate(2025, 1, 1), models.StatusPending)},
		delay:   time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := newReconciler(b, 1).Fetch(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriverPlaceholder(t *testing.T) {
	assert.Equal(t, "Motorista N/A", DriverPlaceholder(""))
	assert.Equal(t, "Motorista abc", DriverPlaceholder("abc"))
	assert.Equal(t, "Motorista 123456", DriverPlaceholder("1234567890"))
}
