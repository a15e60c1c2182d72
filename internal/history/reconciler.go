// Package history joins raw ride-history records with driver profiles and
// geocoded addresses into display entries, most recent first.
package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-client/internal/clock"
	"github.com/example/ride-client/internal/geocode"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

const (
	// DefaultConcurrency bounds the lookups of one fetch.
	DefaultConcurrency = 8
	// DefaultRecent is the size of the landing-page preview.
	DefaultRecent = 3

	noTime = "--:--"
)

// Backend is the part of the ride API the reconciler reads.
type Backend interface {
	RideHistory(ctx context.Context, userID string) ([]models.HistoryRecord, error)
	GetUser(ctx context.Context, userID string) (models.UserProfile, error)
}

type Options struct {
	Backend     Backend
	Geocoder    geocode.Reverser
	Concurrency int
	Clock       clock.Clock
	// Location interprets plain ride dates. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

type Reconciler struct {
	backend  Backend
	geocoder geocode.Reverser
	limit    int
	clock    clock.Clock
	loc      *time.Location
	logger   *slog.Logger
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		backend:  opts.Backend,
		geocoder: opts.Geocoder,
		limit:    opts.Concurrency,
		clock:    opts.Clock,
		loc:      opts.Location,
		logger:   logging.Or(opts.Logger),
	}
	if r.limit <= 0 {
		r.limit = DefaultConcurrency
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	return r
}

// Fetch returns the full reconciled history of viewerID. Only a failure of
// the raw history request is returned; enrichment failures degrade in place.
func (r *Reconciler) Fetch(ctx context.Context, viewerID string) ([]models.RideHistoryEntry, error) {
	start := time.Now()
	defer func() { observability.HistoryFetchDuration.Observe(time.Since(start).Seconds()) }()

	records, err := r.backend.RideHistory(ctx, viewerID)
	if err != nil {
		observability.HistoryFetchErrors.Inc()
		return nil, err
	}
	return r.reconcile(ctx, records)
}

// Recent returns the n most recent completed rides of viewerID, built by the
// same pipeline as Fetch.
func (r *Reconciler) Recent(ctx context.Context, viewerID string, n int) ([]models.RideHistoryEntry, error) {
	if n <= 0 {
		n = DefaultRecent
	}
	start := time.Now()
	defer func() { observability.HistoryFetchDuration.Observe(time.Since(start).Seconds()) }()
	records, err := r.backend.RideHistory(ctx, viewerID)
	if err != nil {
		observability.HistoryFetchErrors.Inc()
		return nil, err
	}
	var completed []models.HistoryRecord
	for _, rec := range records {
		if rec.Status == models.StatusCompleted {
			completed = append(completed, rec)
		}
	}
	entries, err := r.reconcile(ctx, completed)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

type driverInfo struct {
	name  string
	phone string
}

func (r *Reconciler) reconcile(ctx context.Context, records []models.HistoryRecord) ([]models.RideHistoryEntry, error) {
	drivers := r.resolveDrivers(ctx, records)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addrs := r.resolveAddresses(ctx, records)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	out := make([]models.RideHistoryEntry, len(records))
	for i, rec := range records {
		out[i] = r.entry(rec, drivers[rec.Ride.DriverID], addrs[2*i], addrs[2*i+1], now)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortTimestamp.After(out[j].SortTimestamp) })
	return out, nil
}

// resolveDrivers looks up every distinct driver once. Lookups that fail are
// replaced by a placeholder name.
func (r *Reconciler) resolveDrivers(ctx context.Context, records []models.HistoryRecord) map[string]driverInfo {
	seen := make(map[string]bool)
	var ids []string
	for _, rec := range records {
		if id := rec.Ride.DriverID; id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var mu sync.Mutex
	out := make(map[string]driverInfo, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			info := driverInfo{name: DriverPlaceholder(id)}
			profile, err := r.backend.GetUser(gctx, id)
			switch {
			case err != nil:
				if gctx.Err() == nil {
					observability.DegradedLookups.WithLabelValues("driver").Inc()
					r.logger.Warn("driver lookup degraded", "driver_id", id, "error", err)
				}
			case profile.FullName() != "":
				info = driverInfo{name: profile.FullName(), phone: profile.Phone}
			default:
				info.phone = profile.Phone
			}
			mu.Lock()
			out[id] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// resolveAddresses geocodes departure and destination of every record;
// the result holds two addresses per record in record order.
func (r *Reconciler) resolveAddresses(ctx context.Context, records []models.HistoryRecord) []string {
	out := make([]string, 2*len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, rec := range records {
		coords := [2]models.Coord{rec.Ride.DepartureLatLng.Coord(), rec.Ride.DestinationLatLng.Coord()}
		for j, c := range coords {
			c := c
			slot := 2*i + j
			g.Go(func() error {
				out[slot] = geocode.Describe(gctx, r.geocoder, c, r.logger)
				return nil
			})
		}
	}
	_ = g.Wait()
	return out
}

func (r *Reconciler) entry(rec models.HistoryRecord, driver driverInfo, depAddr, arrAddr string, now time.Time) models.RideHistoryEntry {
	ride := rec.Ride
	rideDate, hasDate := ride.Date.In(r.loc)
	createdAt, hasCreated := rec.CreatedAt.In(r.loc)

	sortTS := now
	switch {
	case hasDate:
		sortTS = rideDate
	case hasCreated:
		sortTS = createdAt
	}

	id := string(rec.ID)
	if id == "" {
		id = string(rec.RideID)
	}
	status := rec.Status
	if status == "" {
		status = models.StatusPending
	}
	departure := ride.Departure()
	if departure == "" {
		departure = noTime
	}
	arrival := ride.EndTime
	if arrival == "" {
		arrival = noTime
	}
	if driver.name == "" {
		driver.name = DriverPlaceholder(ride.DriverID)
	}

	e := models.RideHistoryEntry{
		ID:               id,
		RideID:           string(ride.ID),
		Role:             rec.Role,
		Status:           status,
		DepartureTime:    departure,
		ArrivalTime:      arrival,
		PriceDisplay:     models.FormatPrice(ride.PricePerPassenger),
		DriverID:         ride.DriverID,
		DriverName:       driver.name,
		DriverPhone:      driver.phone,
		DepartureAddress: depAddr,
		ArrivalAddress:   arrAddr,
		MaxPassengers:    ride.AllSeats,
		AvailableSeats:   ride.AvailableSeats,
		BookedSeats:      ride.AllSeats - ride.AvailableSeats,
		SortTimestamp:    sortTS,
	}
	if hasDate {
		e.DateDisplay = models.FormatDate(rideDate)
	}
	if hasCreated {
		e.BookingDate = models.FormatDate(createdAt)
	}
	return e
}

// DriverPlaceholder names a driver whose profile could not be loaded.
func DriverPlaceholder(driverID string) string {
	if driverID == "" {
		return "Motorista N/A"
	}
	r := []rune(driverID)
	if len(r) > 6 {
		r = r[:6]
	}
	return "Motorista " + string(r)
}
