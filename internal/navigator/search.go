package navigator

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/events"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

var (
	errMissingDest      = errors.New(msgMissingDest)
	errMissingDeparture = errors.New(msgMissingDeparture)
)

// onPageLocked checks that the search tab shows page. o.mu must be held.
func (o *Orchestrator) onPageLocked(page Page) error {
	if !o.st.authenticated {
		return ErrNotAuthenticated
	}
	if o.st.activeTab != TabSearch || o.st.currentPage != page {
		return ErrWrongPage
	}
	return nil
}

func (o *Orchestrator) goToLocked(page Page) {
	o.st.currentPage = page
	observability.Transitions.WithLabelValues("page").Inc()
}

// StartSearch records the departure and seat count chosen on the landing
// page and asks for a destination.
func (o *Orchestrator) StartSearch(departure models.Location, passengers int) error {
	if passengers <= 0 {
		passengers = 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.onPageLocked(PageSearch); err != nil {
		return err
	}
	o.st.search = &models.SearchQuery{Departure: departure, Passengers: passengers}
	o.st.searchResults = nil
	o.st.selectedRide = nil
	o.goToLocked(PageSearchDestination)
	return nil
}

// SubmitSearch asks the backend for rides matching the search and shows
// them.
func (o *Orchestrator) SubmitSearch(ctx context.Context, destination *models.Location) error {
	o.mu.Lock()
	if err := o.onPageLocked(PageSearchDestination); err != nil {
		o.mu.Unlock()
		return err
	}
	q := cloneSearch(o.st.search)
	o.mu.Unlock()

	if q == nil {
		return o.fail(errMissingDeparture)
	}
	if destination == nil {
		return o.fail(errMissingDest)
	}

	req := models.SuggestRidesRequest{
		DepartureLatLng:   models.LatLngOf(q.Departure.Coord()),
		DestinationLatLng: models.LatLngOf(destination.Coord()),
	}
	if viewer, err := o.session.ViewerID(ctx); err == nil {
		req.UserID = viewer
	} else {
		o.logger.Warn("search without caller id", "error", err)
	}
	rides, err := o.rides.SuggestRides(ctx, req)
	if err != nil {
		return o.fail(err)
	}

	dst := *destination
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.onPageLocked(PageSearchDestination); err != nil {
		observability.StaleResultsDropped.Inc()
		return err
	}
	if o.st.search != nil {
		o.st.search.Destination = &dst
	}
	o.st.searchResults = rides
	o.goToLocked(PageSearchResults)
	return nil
}

// ViewRide opens one of the search results.
func (o *Orchestrator) ViewRide(rideID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.onPageLocked(PageSearchResults); err != nil {
		return err
	}
	for i := range o.st.searchResults {
		if o.st.searchResults[i].ID.String() == rideID {
			r := o.st.searchResults[i]
			o.st.selectedRide = &r
			o.goToLocked(PageRideDetails)
			return nil
		}
	}
	return ErrRideNotFound
}

func (o *Orchestrator) BeginBooking() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.onPageLocked(PageRideDetails); err != nil {
		return err
	}
	if o.st.selectedRide == nil {
		return ErrRideNotFound
	}
	o.goToLocked(PageBooking)
	return nil
}

// ConfirmBooking books the selected ride. Only after the backend accepts it
// is the local booking recorded and the routes tab opened.
func (o *Orchestrator) ConfirmBooking(ctx context.Context) (models.BookedRide, error) {
	o.mu.Lock()
	gen := o.sessionGen
	if err := o.onPageLocked(PageBooking); err != nil {
		o.mu.Unlock()
		return models.BookedRide{}, err
	}
	ride := clonePtr(o.st.selectedRide)
	q := cloneSearch(o.st.search)
	o.mu.Unlock()
	if ride == nil {
		return models.BookedRide{}, o.fail(ErrRideNotFound)
	}

	viewer, err := o.session.ViewerID(ctx)
	if err != nil {
		return models.BookedRide{}, o.fail(err)
	}
	if err := o.rides.ChooseRide(ctx, ride.ID.String(), viewer); err != nil {
		return models.BookedRide{}, o.fail(err)
	}

	booked := models.BookedRide{
		ID:          uuid.NewString(),
		Ride:        *ride,
		BookingDate: o.now(),
		Status:      models.StatusConfirmed,
	}
	if q != nil {
		booked.Search = *q
	}

	o.mu.Lock()
	if !o.sameSessionLocked(gen) {
		o.mu.Unlock()
		observability.StaleResultsDropped.Inc()
		o.logger.Warn("session ended while booking", "ride_id", ride.ID.String())
		return models.BookedRide{}, ErrNotAuthenticated
	}
	o.st.bookings = append(o.st.bookings, booked)
	o.st.search = nil
	o.st.searchResults = nil
	o.st.selectedRide = nil
	o.st.activeTab = TabRoutes
	o.st.currentPage = PageRoutes
	o.st.routesView = RoutesList
	o.mu.Unlock()
	observability.Transitions.WithLabelValues("tab").Inc()

	o.notifier.Notify(dispatch.KindSuccess, msgRideBooked)
	o.publish(events.Event{Type: events.RideBooked, UserID: viewer, RideID: ride.ID.String(), Role: string(models.RolePassenger)})
	o.loadHistory()
	return booked, nil
}
