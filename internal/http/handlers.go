package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-client/internal/api"
	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/draft"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/navigator"
)

// Navigator is the orchestrator as seen by the screens.
type Navigator interface {
	State() navigator.State
	Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error)
	Logout(ctx context.Context) error
	ShowRegister() error
	ShowLogin() error
	RegisterNext() error
	RegisterBack() error
	RegisterComplete() error

	SelectTab(ctx context.Context, tab navigator.Tab) error
	Back() navigator.Page

	StartSearch(departure models.Location, passengers int) error
	SubmitSearch(ctx context.Context, destination *models.Location) error
	ViewRide(rideID string) error
	BeginBooking() error
	ConfirmBooking(ctx context.Context) (models.BookedRide, error)

	SelectDeparture(ctx context.Context, loc models.Location) error
	SelectDestination(ctx context.Context, loc models.Location) error
	PreviewRoute(ctx context.Context) (navigator.RoutePreview, error)
	ConfirmRoute() error
	SetDate(date string) error
	SetTime(hhmm string) error
	SetSeats(n int) error
	SubmitPrice(ctx context.Context, price float64) error
	CreateBack() navigator.CreateStep
	ContinueEdit() (navigator.CreateStep, error)
	EditRide(ctx context.Context, entryID string) error

	RefreshHistory(ctx context.Context) error
	CancelBooking(ctx context.Context, entryID string) error
	ViewDriverRideDetails(ctx context.Context, entryID string) error
	CloseDriverRideDetails()
}

type Server struct {
	nav      Navigator
	hub      *dispatch.Hub
	logger   *slog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

// NewServer exposes nav under /api/v1. Toasts reach screens through hub on
// /ws; hub may be nil.
func NewServer(nav Navigator, hub *dispatch.Hub, logger *slog.Logger) *Server {
	s := &Server{
		nav:      nav,
		hub:      hub,
		logger:   logging.Or(logger),
		validate: validator.New(),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		s.mux.HandleFunc("/ws", s.handleWS)
	}

	v1 := s.mux.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/state", s.handleState).Methods("GET")

	v1.HandleFunc("/session/login", s.handleLogin).Methods("POST")
	v1.HandleFunc("/session/logout", s.action(func(r *http.Request) error { return s.nav.Logout(r.Context()) })).Methods("POST")
	v1.HandleFunc("/register/{step}", s.handleRegister).Methods("POST")

	v1.HandleFunc("/tabs/{tab}", s.action(func(r *http.Request) error {
		return s.nav.SelectTab(r.Context(), navigator.Tab(mux.Vars(r)["tab"]))
	})).Methods("POST")
	v1.HandleFunc("/back", s.action(func(*http.Request) error { s.nav.Back(); return nil })).Methods("POST")

	v1.HandleFunc("/search/start", s.handleStartSearch).Methods("POST")
	v1.HandleFunc("/search/submit", s.handleSubmitSearch).Methods("POST")
	v1.HandleFunc("/search/rides/{id}", s.action(func(r *http.Request) error { return s.nav.ViewRide(mux.Vars(r)["id"]) })).Methods("POST")
	v1.HandleFunc("/booking/begin", s.action(func(*http.Request) error { return s.nav.BeginBooking() })).Methods("POST")
	v1.HandleFunc("/booking/confirm", s.handleConfirmBooking).Methods("POST")

	v1.HandleFunc("/create/departure", s.handleLocation(s.nav.SelectDeparture)).Methods("POST")
	v1.HandleFunc("/create/destination", s.handleLocation(s.nav.SelectDestination)).Methods("POST")
	v1.HandleFunc("/create/route", s.handlePreviewRoute).Methods("GET")
	v1.HandleFunc("/create/route/confirm", s.action(func(*http.Request) error { return s.nav.ConfirmRoute() })).Methods("POST")
	v1.HandleFunc("/create/date", s.handleDate).Methods("POST")
	v1.HandleFunc("/create/time", s.handleTime).Methods("POST")
	v1.HandleFunc("/create/seats", s.handleSeats).Methods("POST")
	v1.HandleFunc("/create/price", s.handlePrice).Methods("POST")
	v1.HandleFunc("/create/back", s.action(func(*http.Request) error { s.nav.CreateBack(); return nil })).Methods("POST")
	v1.HandleFunc("/create/continue", s.action(func(*http.Request) error { _, err := s.nav.ContinueEdit(); return err })).Methods("POST")

	v1.HandleFunc("/history/refresh", s.action(func(r *http.Request) error { return s.nav.RefreshHistory(r.Context()) })).Methods("POST")
	v1.HandleFunc("/rides/{id}/cancel", s.action(func(r *http.Request) error {
		return s.nav.CancelBooking(r.Context(), mux.Vars(r)["id"])
	})).Methods("POST")
	v1.HandleFunc("/rides/{id}/edit", s.action(func(r *http.Request) error {
		return s.nav.EditRide(r.Context(), mux.Vars(r)["id"])
	})).Methods("POST")
	v1.HandleFunc("/rides/{id}/details", s.action(func(r *http.Request) error {
		return s.nav.ViewDriverRideDetails(r.Context(), mux.Vars(r)["id"])
	})).Methods("POST")
	v1.HandleFunc("/routes/close", s.action(func(*http.Request) error { s.nav.CloseDriverRideDetails(); return nil })).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// action runs f and answers with the resulting state.
func (s *Server) action(f func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.nav.State())
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.nav.State())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.nav.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Identity{ID: resp.ID, Email: resp.Email})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var f func() error
	switch mux.Vars(r)["step"] {
	case "show":
		f = s.nav.ShowRegister
	case "next":
		f = s.nav.RegisterNext
	case "back":
		f = s.nav.RegisterBack
	case "complete":
		f = s.nav.RegisterComplete
	case "cancel":
		f = s.nav.ShowLogin
	default:
		http.Error(w, "unknown register step", http.StatusNotFound)
		return
	}
	s.action(func(*http.Request) error { return f() })(w, r)
}

type startSearchRequest struct {
	Departure  *models.Location `json:"departure" validate:"required"`
	Passengers int              `json:"passengers" validate:"gte=0"`
}

func (s *Server) handleStartSearch(w http.ResponseWriter, r *http.Request) {
	var req startSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.action(func(*http.Request) error { return s.nav.StartSearch(*req.Departure, req.Passengers) })(w, r)
}

type submitSearchRequest struct {
	Destination *models.Location `json:"destination"`
}

func (s *Server) handleSubmitSearch(w http.ResponseWriter, r *http.Request) {
	var req submitSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.action(func(r *http.Request) error { return s.nav.SubmitSearch(r.Context(), req.Destination) })(w, r)
}

func (s *Server) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	booked, err := s.nav.ConfirmBooking(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booked)
}

type locationRequest struct {
	Location *models.Location `json:"location" validate:"required"`
}

func (s *Server) handleLocation(set func(context.Context, models.Location) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req locationRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.action(func(r *http.Request) error { return set(r.Context(), *req.Location) })(w, r)
	}
}

func (s *Server) handlePreviewRoute(w http.ResponseWriter, r *http.Request) {
	p, err := s.nav.PreviewRoute(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type dateRequest struct {
	Date string `json:"date" validate:"required"`
}

func (s *Server) handleDate(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.action(func(*http.Request) error { return s.nav.SetDate(req.Date) })(w, r)
}

type timeRequest struct {
	Time string `json:"time" validate:"required,len=5"`
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.action(func(*http.Request) error { return s.nav.SetTime(req.Time) })(w, r)
}

type seatsRequest struct {
	Seats int `json:"seats" validate:"gt=0"`
}

func (s *Server) handleSeats(w http.ResponseWriter, r *http.Request) {
	var req seatsRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.action(func(*http.Request) error { return s.nav.SetSeats(req.Seats) })(w, r)
}

type priceRequest struct {
	Price *float64 `json:"price" validate:"required,gte=0"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.action(func(r *http.Request) error { return s.nav.SubmitPrice(r.Context(), *req.Price) })(w, r)
}

var upgrader = websocket.Upgrader{}

// handleWS attaches a screen to the toast hub until it disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	id := s.hub.Add(conn)
	defer s.hub.Remove(id)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// decode reads a JSON body into v and validates it, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps orchestrator and backend errors to HTTP statuses. Anything
// else is a rejected user action.
func statusFor(err error) int {
	var apiErr *api.Error
	var missing *draft.MissingFieldsError
	switch {
	case errors.Is(err, navigator.ErrNotAuthenticated), errors.Is(err, api.ErrNoToken):
		return http.StatusUnauthorized
	case errors.Is(err, navigator.ErrNotDriver):
		return http.StatusForbidden
	case errors.Is(err, navigator.ErrUnknownTab), errors.Is(err, navigator.ErrRideNotFound):
		return http.StatusNotFound
	case errors.Is(err, navigator.ErrAuthenticated), errors.Is(err, navigator.ErrWrongPage),
		errors.Is(err, navigator.ErrWrongStep), errors.Is(err, navigator.ErrNothingToResume):
		return http.StatusConflict
	case errors.Is(err, api.ErrConnectivity):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	}
	var decErr *api.DecodeError
	if errors.As(err, &decErr) {
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
