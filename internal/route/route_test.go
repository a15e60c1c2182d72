package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-client/internal/models"
)

func TestOSRMMeasure(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/route/v1/driving/{coords}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "-46.600000,-23.500000;-46.700000,-23.600000", mux.Vars(req)["coords"])
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"duration":1530,"distance":12345.6}]}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	m, err := NewOSRMClient(srv.URL, time.Second).Measure(context.Background(),
		models.Coord{Lat: -23.5, Lon: -46.6}, models.Coord{Lat: -23.6, Lon: -46.7})
	require.NoError(t, err)
	assert.Equal(t, 1530*time.Second, m.Duration)
	assert.Equal(t, 26, m.Minutes())
	assert.InDelta(t, 12345.6, m.DistanceMeters, 0.001)
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL, time.Second).Measure(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	assert.Error(t, err)
}

func TestHaversine(t *testing.T) {
	assert.Zero(t, Haversine(models.Coord{}, models.Coord{}))
	// one degree of latitude is ~111.2 km
	assert.InDelta(t, 111195, Haversine(models.Coord{Lat: 0}, models.Coord{Lat: 1}), 50)
}

func TestStraightLineEstimateAt50Kmh(t *testing.T) {
	m := StraightLineEstimate(models.Coord{Lat: 0}, models.Coord{Lat: 1})
	assert.InDelta(t, 133.4, m.Duration.Minutes(), 0.2)
}

func TestAddMinutes(t *testing.T) {
	cases := []struct {
		start string
		add   int
		want  string
	}{
		{"08:00", 0, "08:00"},
		{"08:15", 45, "09:00"},
		{"23:30", 45, "00:15"},
		{"00:10", -20, "23:50"},
		{"", 30, ""},
	}
	for _, tc := range cases {
		got, err := AddMinutes(tc.start, tc.add)
		require.NoError(t, err, tc.start)
		assert.Equal(t, tc.want, got, tc.start)
	}

	_, err := AddMinutes("25:00", 5)
	assert.Error(t, err)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "25 min", FormatDuration(25*time.Minute))
	assert.Equal(t, "1h", FormatDuration(time.Hour))
	assert.Equal(t, "1h 5min", FormatDuration(65*time.Minute))
	assert.Equal(t, "850 m", FormatDistance(850))
	assert.Equal(t, "12.3 km", FormatDistance(12345))
}
