// Package draft owns the in-progress ride of the creation wizard. The
// in-memory Draft is the model; the key-value store persists the picked
// addresses and the measured route duration so they survive a restart.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-client/internal/geocode"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
	"github.com/example/ride-client/internal/storage"
)

// Rides is the part of the backend the draft store talks to.
type Rides interface {
	GetRide(ctx context.Context, rideID string) (models.Ride, error)
	CreateRide(ctx context.Context, req models.RideRequest) error
	UpdateRide(ctx context.Context, rideID string, req models.RideRequest) error
}

// ErrInvalidRideDate is returned by LoadForEdit when the stored ride date
// cannot be read.
var ErrInvalidRideDate = errors.New("Data da corrida inválida.")

// Draft is a copy of the wizard selections.
type Draft struct {
	Departure     *models.Location `json:"departure,omitempty" validate:"required"`
	Destination   *models.Location `json:"destination,omitempty" validate:"required"`
	Date          string           `json:"date,omitempty" validate:"required"`
	Time          string           `json:"time,omitempty" validate:"required"`
	Seats         int              `json:"seats,omitempty" validate:"gt=0"`
	Price         *float64         `json:"price,omitempty"`
	EditingRideID string           `json:"editingRideId,omitempty"`
	EditSnapshot  *EditSnapshot    `json:"editSnapshot,omitempty"`
}

// EditSnapshot holds the values a ride had when it was loaded for editing.
type EditSnapshot struct {
	DepartureAddress   string   `json:"departureAddress"`
	DestinationAddress string   `json:"destinationAddress"`
	Price              *float64 `json:"price,omitempty"`
	PassengerIDs       []string `json:"passengerIds"`
}

// Editing reports whether the draft updates an existing ride.
func (d Draft) Editing() bool { return d.EditingRideID != "" }

func (d Draft) clone() Draft {
	out := d
	if d.Departure != nil {
		v := *d.Departure
		out.Departure = &v
	}
	if d.Destination != nil {
		v := *d.Destination
		out.Destination = &v
	}
	if d.Price != nil {
		v := *d.Price
		out.Price = &v
	}
	if d.EditSnapshot != nil {
		s := *d.EditSnapshot
		s.PassengerIDs = append([]string(nil), d.EditSnapshot.PassengerIDs...)
		if s.Price != nil {
			v := *s.Price
			s.Price = &v
		}
		out.EditSnapshot = &s
	}
	return out
}

// MissingFieldsError lists every absent field, by its JSON name.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "draft: missing fields: " + strings.Join(e.Fields, ", ")
}

// MissingCoordinates reports whether departure or destination is absent.
func (e *MissingFieldsError) MissingCoordinates() bool {
	for _, f := range e.Fields {
		if f == "departure" || f == "destination" {
			return true
		}
	}
	return false
}

type Options struct {
	KV       storage.Store
	Rides    Rides
	Geocoder geocode.Reverser
	// Location interprets plain ride dates. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

type Store struct {
	kv       storage.Store
	rides    Rides
	geocoder geocode.Reverser
	loc      *time.Location
	logger   *slog.Logger
	validate *validator.Validate

	mu    sync.RWMutex
	draft Draft
}

func New(opts Options) *Store {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		kv:       opts.KV,
		rides:    opts.Rides,
		geocoder: opts.Geocoder,
		loc:      loc,
		logger:   logging.Or(opts.Logger),
		validate: v,
	}
}

// Snapshot returns a deep copy of the current draft.
func (s *Store) Snapshot() Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft.clone()
}

// Reset clears every field and the edit markers, and removes the persisted
// addresses and route duration.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.draft = Draft{}
	s.mu.Unlock()
	return s.kv.Delete(ctx, storage.KeySelectedAddress, storage.KeySelectedDestination, storage.KeyRouteDurationMinutes)
}

// SetDeparture records the departure and persists its coordinate record.
func (s *Store) SetDeparture(ctx context.Context, loc models.Location) error {
	if err := storage.SetJSON(ctx, s.kv, storage.KeySelectedAddress, loc); err != nil {
		return err
	}
	s.mu.Lock()
	s.draft.Departure = &loc
	s.mu.Unlock()
	return nil
}

// SetDestination records the destination and persists its coordinate record.
func (s *Store) SetDestination(ctx context.Context, loc models.Location) error {
	if err := storage.SetJSON(ctx, s.kv, storage.KeySelectedDestination, loc); err != nil {
		return err
	}
	s.mu.Lock()
	s.draft.Destination = &loc
	s.mu.Unlock()
	return nil
}

// SetDate takes a calendar date as YYYY-MM-DD.
func (s *Store) SetDate(date string) error {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("draft: invalid date %q", date)
	}
	s.mu.Lock()
	s.draft.Date = date
	s.mu.Unlock()
	return nil
}

// SetTime takes a time of day as HH:MM.
func (s *Store) SetTime(hhmm string) error {
	if _, err := route.ParseClock(hhmm); err != nil {
		return err
	}
	s.mu.Lock()
	s.draft.Time = hhmm
	s.mu.Unlock()
	return nil
}

func (s *Store) SetSeats(n int) error {
	if n <= 0 {
		return fmt.Errorf("draft: seats must be positive, got %d", n)
	}
	s.mu.Lock()
	s.draft.Seats = n
	s.mu.Unlock()
	return nil
}

func (s *Store) SetPrice(p float64) error {
	if p < 0 {
		return fmt.Errorf("draft: negative price %v", p)
	}
	s.mu.Lock()
	s.draft.Price = &p
	s.mu.Unlock()
	return nil
}

// SetRouteDuration persists the measured route duration in minutes.
func (s *Store) SetRouteDuration(ctx context.Context, minutes int) error {
	return storage.SetJSON(ctx, s.kv, storage.KeyRouteDurationMinutes, minutes)
}

// RouteDuration is the last measured duration, zero when never measured.
func (s *Store) RouteDuration(ctx context.Context) int {
	var minutes int
	if _, err := storage.GetJSON(ctx, s.kv, storage.KeyRouteDurationMinutes, &minutes); err != nil {
		s.logger.Warn("route duration unreadable", "error", err)
		return 0
	}
	return minutes
}

// LoadForEdit fills the draft from the ride stored under rideID. The draft is
// left untouched when anything fails.
func (s *Store) LoadForEdit(ctx context.Context, rideID string) error {
	ride, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	day, ok := ride.Date.In(s.loc)
	if !ok {
		return ErrInvalidRideDate
	}

	dep := models.Location{Latitude: ride.DepartureLatLng[0], Longitude: ride.DepartureLatLng[1]}
	dst := models.Location{Latitude: ride.DestinationLatLng[0], Longitude: ride.DestinationLatLng[1]}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dep.Address = geocode.Describe(gctx, s.geocoder, dep.Coord(), s.logger)
		return nil
	})
	g.Go(func() error {
		dst.Address = geocode.Describe(gctx, s.geocoder, dst.Coord(), s.logger)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := storage.SetJSON(ctx, s.kv, storage.KeySelectedAddress, dep); err != nil {
		return err
	}
	if err := storage.SetJSON(ctx, s.kv, storage.KeySelectedDestination, dst); err != nil {
		return err
	}

	seats := ride.AllSeats
	if seats <= 0 {
		seats = ride.AvailableSeats
	}
	if seats <= 0 {
		seats = 1
	}
	var price *float64
	if ride.PricePerPassenger > 0 {
		p := ride.PricePerPassenger
		price = &p
	}

	next := Draft{
		Departure:     &dep,
		Destination:   &dst,
		Date:          day.Format(time.DateOnly),
		Time:          ride.Departure(),
		Seats:         seats,
		Price:         price,
		EditingRideID: rideID,
		EditSnapshot: &EditSnapshot{
			DepartureAddress:   dep.Address,
			DestinationAddress: dst.Address,
			Price:              price,
			PassengerIDs:       append([]string{}, ride.PassengerIDs...),
		},
	}
	s.mu.Lock()
	s.draft = next.clone()
	s.mu.Unlock()
	return nil
}

// Result describes a successful submission.
type Result struct {
	RideID  string
	Updated bool
	Request models.RideRequest
}

// Submit validates the draft, computes the end time from the measured route
// duration and creates or updates the ride. The draft is reset on success.
func (s *Store) Submit(ctx context.Context, driverID string, price float64) (Result, error) {
	d := s.Snapshot()
	if err := s.validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
			return Result{}, &MissingFieldsError{Fields: missing}
		}
		return Result{}, err
	}
	if price < 0 {
		return Result{}, fmt.Errorf("draft: negative price %v", price)
	}

	endTime, err := route.AddMinutes(d.Time, s.RouteDuration(ctx))
	if err != nil {
		return Result{}, err
	}

	passengers := []string{}
	if d.Editing() && d.EditSnapshot != nil {
		passengers = append(passengers, d.EditSnapshot.PassengerIDs...)
	}
	req := models.RideRequest{
		DriverID:          driverID,
		DepartureLatLng:   models.LatLngOf(d.Departure.Coord()),
		DestinationLatLng: models.LatLngOf(d.Destination.Coord()),
		Date:              d.Date,
		StartTime:         d.Time,
		EndTime:           endTime,
		AllSeats:          d.Seats,
		PricePerPassenger: price,
		PassengerIDs:      passengers,
	}
	if err := s.validate.Struct(req); err != nil {
		return Result{}, err
	}

	if d.Editing() {
		err = s.rides.UpdateRide(ctx, d.EditingRideID, req)
	} else {
		err = s.rides.CreateRide(ctx, req)
	}
	if err != nil {
		return Result{}, err
	}

	if err := s.Reset(ctx); err != nil {
		s.logger.Warn("reset draft after submit", "error", err)
	}
	return Result{RideID: d.EditingRideID, Updated: d.Editing(), Request: req}, nil
}
