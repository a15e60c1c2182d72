package navigator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/events"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// loadHistory starts a background fetch of the full history. An earlier
// fetch still in flight is cancelled and its result discarded.
func (o *Orchestrator) loadHistory() {
	o.mu.Lock()
	if !o.st.authenticated {
		o.mu.Unlock()
		return
	}
	ctx, cancel, gen := o.beginHistoryLocked(o.base)
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer cancel()
		o.runHistory(ctx, gen)
	}()
}

// beginHistoryLocked opens a new history generation. o.mu must be held.
func (o *Orchestrator) beginHistoryLocked(parent context.Context) (context.Context, context.CancelFunc, uint64) {
	if o.histCancel != nil {
		o.histCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	o.histGen++
	o.histCancel = cancel
	o.st.loadingHist = true
	return ctx, cancel, o.histGen
}

// runHistory fetches and applies the history for generation gen. A failed
// fetch leaves the previous list in place.
func (o *Orchestrator) runHistory(ctx context.Context, gen uint64) {
	entries, err := o.fetchHistory(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.histGen {
		observability.StaleResultsDropped.Inc()
		return
	}
	o.histCancel = nil
	o.st.loadingHist = false
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			o.logger.Error("load ride history", "error", err)
		}
		return
	}
	o.st.history = entries
}

func (o *Orchestrator) fetchHistory(ctx context.Context) ([]models.RideHistoryEntry, error) {
	viewer, err := o.session.ViewerID(ctx)
	if err != nil {
		return nil, err
	}
	return o.history.Fetch(ctx, viewer)
}

// loadRecent refreshes the landing-page preview in the background. Unlike
// the full history, a failure clears the preview.
func (o *Orchestrator) loadRecent() {
	o.mu.Lock()
	if !o.st.authenticated {
		o.mu.Unlock()
		return
	}
	if o.recentCancel != nil {
		o.recentCancel()
	}
	ctx, cancel := context.WithCancel(o.base)
	o.recentGen++
	gen := o.recentGen
	o.recentCancel = cancel
	o.st.loadingRecent = true
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer cancel()

		var entries []models.RideHistoryEntry
		viewer, err := o.session.ViewerID(ctx)
		if err == nil {
			entries, err = o.history.Recent(ctx, viewer, o.recentLimit)
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		if gen != o.recentGen {
			observability.StaleResultsDropped.Inc()
			return
		}
		o.recentCancel = nil
		o.st.loadingRecent = false
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				o.logger.Error("load recent rides", "error", err)
			}
			o.st.recentRides = nil
			return
		}
		o.st.recentRides = entries
	}()
}

// RefreshHistory refetches the full history and waits for the result.
func (o *Orchestrator) RefreshHistory(ctx context.Context) error {
	o.mu.Lock()
	if !o.st.authenticated {
		o.mu.Unlock()
		return ErrNotAuthenticated
	}
	hctx, cancel, gen := o.beginHistoryLocked(ctx)
	o.mu.Unlock()
	defer cancel()

	o.runHistory(hctx, gen)
	return nil
}

func (o *Orchestrator) findEntryLocked(entryID string) (models.RideHistoryEntry, bool) {
	for _, e := range o.st.history {
		if e.ID == entryID {
			return e, true
		}
	}
	for _, e := range o.st.recentRides {
		if e.ID == entryID {
			return e, true
		}
	}
	return models.RideHistoryEntry{}, false
}

func rideIDOf(e models.RideHistoryEntry) string {
	if e.RideID != "" {
		return e.RideID
	}
	return e.ID
}

// CancelBooking cancels the ride behind a history entry in the caller's role
// and then replaces the list with the server's answer.
func (o *Orchestrator) CancelBooking(ctx context.Context, entryID string) error {
	o.mu.Lock()
	if !o.st.authenticated {
		o.mu.Unlock()
		return ErrNotAuthenticated
	}
	entry, ok := o.findEntryLocked(entryID)
	o.mu.Unlock()
	if !ok {
		return o.fail(ErrRideNotFound)
	}

	viewer, err := o.session.ViewerID(ctx)
	if err != nil {
		return o.fail(err)
	}
	rideID := rideIDOf(entry)
	if entry.Role == models.RoleDriver {
		err = o.rides.CancelAsDriver(ctx, rideID, viewer)
	} else {
		err = o.rides.CancelAsPassenger(ctx, rideID, viewer)
	}
	if err != nil {
		return o.fail(err)
	}

	if err := o.RefreshHistory(ctx); err != nil {
		o.logger.Warn("refresh after cancel", "error", err)
	}
	o.publish(events.Event{Type: events.RideCancelled, UserID: viewer, RideID: rideID, Role: string(entry.Role)})
	o.notifier.Notify(dispatch.KindSuccess, msgRideCancelled)
	return nil
}

// ViewDriverRideDetails opens the driver's view of one of their rides and
// resolves its passengers. Passengers whose lookup fails are left out.
func (o *Orchestrator) ViewDriverRideDetails(ctx context.Context, entryID string) error {
	o.mu.Lock()
	if !o.st.authenticated {
		o.mu.Unlock()
		return ErrNotAuthenticated
	}
	if o.st.activeTab != TabRoutes {
		o.mu.Unlock()
		return ErrWrongPage
	}
	entry, ok := o.findEntryLocked(entryID)
	if !ok {
		o.mu.Unlock()
		return o.fail(ErrRideNotFound)
	}
	if entry.Role != models.RoleDriver {
		o.mu.Unlock()
		return ErrNotDriver
	}
	o.detailsGen++
	gen := o.detailsGen
	o.st.routesView = RoutesDriverDetails
	o.st.selectedDriverRide = &entry
	o.st.driverPassengers = nil
	o.st.loadingPassengers = true
	o.mu.Unlock()
	observability.Transitions.WithLabelValues("routes").Inc()

	ride, err := o.rides.GetRide(ctx, rideIDOf(entry))
	if err != nil {
		o.mu.Lock()
		if gen == o.detailsGen {
			o.st.routesView = RoutesList
			o.st.selectedDriverRide = nil
			o.st.loadingPassengers = false
		}
		o.mu.Unlock()
		return o.fail(err)
	}

	passengers := o.resolvePassengers(ctx, ride.PassengerIDs)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.detailsGen {
		observability.StaleResultsDropped.Inc()
		return nil
	}
	o.st.driverPassengers = passengers
	o.st.loadingPassengers = false
	return nil
}

func (o *Orchestrator) resolvePassengers(ctx context.Context, ids []string) []models.PassengerInfo {
	found := make([]*models.PassengerInfo, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			u, err := o.rides.GetUser(gctx, id)
			if err != nil {
				o.logger.Warn("passenger lookup failed", "passenger_id", id, "error", err)
				observability.DegradedLookups.WithLabelValues("passenger").Inc()
				return nil
			}
			name := u.FullName()
			if name == "" {
				name = msgPassengerNoName
			}
			found[i] = &models.PassengerInfo{ID: id, FullName: name, Phone: u.Phone, AddressID: u.AddressID}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.PassengerInfo, 0, len(ids))
	for _, p := range found {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// CloseDriverRideDetails returns the routes tab to its list.
func (o *Orchestrator) CloseDriverRideDetails() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detailsGen++
	o.st.routesView = RoutesList
	o.st.selectedDriverRide = nil
	o.st.driverPassengers = nil
	o.st.loadingPassengers = false
}
