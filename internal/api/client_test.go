package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-client/internal/models"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, bool) { return string(s), s != "" }

func newTestClient(t *testing.T, r *mux.Router, tok string) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	c.Tokens = staticToken(tok)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginPostsCredentials(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		assert.Empty(t, req.Header.Get("Authorization"))
		var body models.LoginRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, models.LoginRequest{CorporateEmail: "a@b.com", Password: "x"}, body)
		writeJSON(w, http.StatusOK, map[string]string{"token": "t1", "id": "u1", "email": "a@b.com"})
	}).Methods(http.MethodPost)

	c := newTestClient(t, r, "stale")
	out, err := c.Login(context.Background(), models.LoginRequest{CorporateEmail: "a@b.com", Password: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.LoginResponse{Token: "t1", ID: "u1", Email: "a@b.com"}, out)
}

func TestLoginWithoutTokenIsDecodeError(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "u1"})
	})

	c := newTestClient(t, r, "")
	_, err := c.Login(context.Background(), models.LoginRequest{CorporateEmail: "a@b.com", Password: "x"})
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "login", decErr.Op)
}

func TestServerMessageBecomesError(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/ride/{id}/choose/{user}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Sem vagas disponíveis"})
	}).Methods(http.MethodPut)

	c := newTestClient(t, r, "t1")
	err := c.ChooseRide(context.Background(), "r1", "u1")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "Sem vagas disponíveis", err.Error())
}

func TestStatusFallbackMessage(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/ride/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := newTestClient(t, r, "t1")
	_, err := c.GetRide(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, "Erro 404: Not Found", err.Error())
	assert.True(t, IsNotFound(err))
}

func TestRequiredTokenShortCircuits(t *testing.T) {
	called := false
	r := mux.NewRouter()
	r.PathPrefix("/").HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	c := newTestClient(t, r, "")
	_, err := c.RideHistory(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, called)
}

func TestConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base})
	require.NoError(t, err)
	_, err = c.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Equal(t, ErrConnectivity.Error(), err.Error())
}

func TestCanceledContextIsNotConnectivity(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "u1"})
	})
	c := newTestClient(t, r, "t1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetUser(ctx, "u1")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrConnectivity))
}

func TestRideHistorySendsBearerAndDecodes(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/ride-history/user/{id}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer t1", req.Header.Get("Authorization"))
		assert.Equal(t, "u1", mux.Vars(req)["id"])
		_, _ = w.Write([]byte(`[{"id":1,"ride":{"id":"r1","driverId":"d1","date":"2025-04-01","departureLatLng":[1,2],"destinationLatLng":[3,4]},"status":"pending","role":"driver","createdAt":{"_seconds":1700000000,"_nanoseconds":0}}]`))
	}).Methods(http.MethodGet)

	c := newTestClient(t, r, "t1")
	recs, err := c.RideHistory(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ID("1"), recs[0].ID)
	assert.Equal(t, "d1", recs[0].Ride.DriverID)
	assert.False(t, recs[0].CreatedAt.IsZero())
}

func TestRideHistoryRejectsRecordWithoutRide(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/ride-history/user/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"h1","status":"pending","role":"passenger"}]`))
	})

	c := newTestClient(t, r, "t1")
	_, err := c.RideHistory(context.Background(), "u1")
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestCancelPathsPerRole(t *testing.T) {
	var hits []string
	r := mux.NewRouter()
	r.HandleFunc("/ride/{id}/cancel-driver/{user}", func(w http.ResponseWriter, req *http.Request) {
		hits = append(hits, "driver:"+mux.Vars(req)["id"])
	}).Methods(http.MethodPut)
	r.HandleFunc("/ride/{id}/cancel-passenger/{user}", func(w http.ResponseWriter, req *http.Request) {
		hits = append(hits, "passenger:"+mux.Vars(req)["id"])
	}).Methods(http.MethodPut)

	c := newTestClient(t, r, "t1")
	require.NoError(t, c.CancelAsDriver(context.Background(), "r1", "u1"))
	require.NoError(t, c.CancelAsPassenger(context.Background(), "r2", "u1"))
	assert.Equal(t, []string{"driver:r1", "passenger:r2"}, hits)
}

func TestSuggestRidesUnwrapsData(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/ride/suggest-rides", func(w http.ResponseWriter, req *http.Request) {
		var body models.SuggestRidesRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "u1", body.UserID)
		assert.Equal(t, models.LatLng{1, 2}, body.DepartureLatLng)
		_, _ = w.Write([]byte(`{"data":[{"id":"r1","pricePerPassenger":9.5},{"id":2}]}`))
	}).Methods(http.MethodPost)

	c := newTestClient(t, r, "")
	rides, err := c.SuggestRides(context.Background(), models.SuggestRidesRequest{
		DepartureLatLng:   models.LatLng{1, 2},
		DestinationLatLng: models.LatLng{3, 4},
		UserID:            "u1",
	})
	require.NoError(t, err)
	require.Len(t, rides, 2)
	assert.Equal(t, models.ID("2"), rides[1].ID)
}
