package navigator

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/draft"
	"github.com/example/ride-client/internal/events"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/route"
)

var (
	errMissingCoords   = errors.New(msgMissingCoords)
	errMissingSchedule = errors.New(msgMissingSchedule)
)

func stepIndex(step CreateStep) int {
	for i, s := range wizardOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// atStep checks that the wizard is open on step.
func (o *Orchestrator) atStep(step CreateStep) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.st.authenticated {
		return ErrNotAuthenticated
	}
	if o.st.activeTab != TabCreate {
		return ErrWrongPage
	}
	if o.st.createStep != step {
		return ErrWrongStep
	}
	return nil
}

// advanceFrom moves the wizard to the step after from, unless the user has
// already moved elsewhere.
func (o *Orchestrator) advanceFrom(from CreateStep) CreateStep {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := stepIndex(from)
	if o.st.activeTab == TabCreate && o.st.createStep == from && i+1 < len(wizardOrder) {
		o.st.createStep = wizardOrder[i+1]
		observability.Transitions.WithLabelValues("wizard").Inc()
	}
	return o.st.createStep
}

func (o *Orchestrator) SelectDeparture(ctx context.Context, loc models.Location) error {
	if err := o.atStep(StepDeparture); err != nil {
		return err
	}
	if err := o.drafts.SetDeparture(ctx, loc); err != nil {
		return o.fail(err)
	}
	o.advanceFrom(StepDeparture)
	return nil
}

func (o *Orchestrator) SelectDestination(ctx context.Context, loc models.Location) error {
	if err := o.atStep(StepDestination); err != nil {
		return err
	}
	if err := o.drafts.SetDestination(ctx, loc); err != nil {
		return o.fail(err)
	}
	o.advanceFrom(StepDestination)
	return nil
}

// RoutePreview is the measured route between the draft's two addresses.
type RoutePreview struct {
	Duration        time.Duration `json:"duration"`
	DistanceMeters  float64       `json:"distanceMeters"`
	StraightLine    float64       `json:"straightLineMeters"`
	DurationText    string        `json:"durationText"`
	DistanceText    string        `json:"distanceText"`
	StraightLineTxt string        `json:"straightLineText"`
	// Estimated is set when the router failed and the numbers come from the
	// straight-line distance. Estimates are not persisted.
	Estimated bool `json:"estimated"`
}

// PreviewRoute measures the departure to destination route and persists its
// duration for the end time computed at submission.
func (o *Orchestrator) PreviewRoute(ctx context.Context) (RoutePreview, error) {
	if err := o.atStep(StepRoute); err != nil {
		return RoutePreview{}, err
	}
	d := o.drafts.Snapshot()
	if d.Departure == nil || d.Destination == nil {
		return RoutePreview{}, o.fail(errMissingCoords)
	}
	from, to := d.Departure.Coord(), d.Destination.Coord()

	estimated := false
	m, err := o.router.Measure(ctx, from, to)
	if err != nil {
		if ctx.Err() != nil {
			return RoutePreview{}, ctx.Err()
		}
		o.logger.Warn("route measurement failed", "error", err)
		observability.DegradedLookups.WithLabelValues("route").Inc()
		m = route.StraightLineEstimate(from, to)
		estimated = true
	} else if err := o.drafts.SetRouteDuration(ctx, m.Minutes()); err != nil {
		o.logger.Warn("persist route duration", "error", err)
	}

	straight := route.Haversine(from, to)
	return RoutePreview{
		Duration:        m.Duration,
		DistanceMeters:  m.DistanceMeters,
		StraightLine:    straight,
		DurationText:    route.FormatDuration(m.Duration),
		DistanceText:    route.FormatDistance(m.DistanceMeters),
		StraightLineTxt: route.FormatDistance(straight),
		Estimated:       estimated,
	}, nil
}

// ConfirmRoute accepts the preview and moves on to the date.
func (o *Orchestrator) ConfirmRoute() error {
	if err := o.atStep(StepRoute); err != nil {
		return err
	}
	o.advanceFrom(StepRoute)
	return nil
}

func (o *Orchestrator) SetDate(date string) error {
	if err := o.atStep(StepDate); err != nil {
		return err
	}
	if err := o.drafts.SetDate(date); err != nil {
		return o.fail(err)
	}
	o.advanceFrom(StepDate)
	return nil
}

func (o *Orchestrator) SetTime(hhmm string) error {
	if err := o.atStep(StepTime); err != nil {
		return err
	}
	if err := o.drafts.SetTime(hhmm); err != nil {
		return o.fail(err)
	}
	o.advanceFrom(StepTime)
	return nil
}

func (o *Orchestrator) SetSeats(n int) error {
	if err := o.atStep(StepPassengers); err != nil {
		return err
	}
	if err := o.drafts.SetSeats(n); err != nil {
		return o.fail(err)
	}
	o.advanceFrom(StepPassengers)
	return nil
}

// SubmitPrice is the last wizard step: it creates or updates the ride and
// opens the routes tab on success. On failure the wizard stays on the price
// step with the draft intact.
func (o *Orchestrator) SubmitPrice(ctx context.Context, price float64) error {
	gen := o.epoch()
	if err := o.atStep(StepPrice); err != nil {
		return err
	}
	if err := o.drafts.SetPrice(price); err != nil {
		return o.fail(err)
	}
	viewer, err := o.session.ViewerID(ctx)
	if err != nil {
		return o.fail(err)
	}

	res, err := o.drafts.Submit(ctx, viewer, price)
	if err != nil {
		var missing *draft.MissingFieldsError
		if errors.As(err, &missing) {
			if missing.MissingCoordinates() {
				o.fail(errMissingCoords)
			} else {
				o.fail(errMissingSchedule)
			}
			return err
		}
		return o.fail(err)
	}

	msg, typ := msgRideCreated, events.RideCreated
	if res.Updated {
		msg, typ = msgRideUpdated, events.RideUpdated
	}
	o.publish(events.Event{Type: typ, UserID: viewer, RideID: res.RideID, Role: string(models.RoleDriver)})

	o.mu.Lock()
	if !o.sameSessionLocked(gen) {
		o.mu.Unlock()
		observability.StaleResultsDropped.Inc()
		o.logger.Warn("session ended while saving ride", "ride_id", res.RideID, "updated", res.Updated)
		return ErrNotAuthenticated
	}
	o.st.activeTab = TabRoutes
	o.st.currentPage = PageRoutes
	o.st.createStep = StepDeparture
	o.st.routesView = RoutesList
	o.mu.Unlock()
	observability.Transitions.WithLabelValues("tab").Inc()
	o.notifier.Notify(dispatch.KindSuccess, msg)
	o.loadHistory()
	return nil
}

// CreateBack walks the wizard one step back. It does nothing on the first
// step.
func (o *Orchestrator) CreateBack() CreateStep {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.activeTab != TabCreate {
		return o.st.createStep
	}
	if i := stepIndex(o.st.createStep); i > 0 {
		o.st.createStep = wizardOrder[i-1]
		observability.Transitions.WithLabelValues("wizard").Inc()
	}
	return o.st.createStep
}

// ContinueEdit advances past a step whose data was loaded from the ride
// being edited.
func (o *Orchestrator) ContinueEdit() (CreateStep, error) {
	o.mu.Lock()
	step, tab := o.st.createStep, o.st.activeTab
	o.mu.Unlock()
	if tab != TabCreate {
		return step, ErrWrongPage
	}

	d := o.drafts.Snapshot()
	if !d.Editing() {
		return step, ErrNothingToResume
	}
	var present bool
	switch step {
	case StepDeparture:
		present = d.Departure != nil
	case StepDestination:
		present = d.Destination != nil
	case StepRoute:
		present = d.Departure != nil && d.Destination != nil
	case StepDate:
		present = d.Date != ""
	case StepTime:
		present = d.Time != ""
	case StepPassengers:
		present = d.Seats > 0
	}
	if !present {
		return step, ErrNothingToResume
	}
	return o.advanceFrom(step), nil
}

// EditRide loads one of the driver's rides into the wizard and opens it on
// the first step. The draft is not reset: it already holds the ride.
func (o *Orchestrator) EditRide(ctx context.Context, entryID string) error {
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
	if entry.Role != models.RoleDriver {
		return ErrNotDriver
	}

	if err := o.drafts.LoadForEdit(ctx, rideIDOf(entry)); err != nil {
		o.logger.Error("load ride for edit", "ride_id", rideIDOf(entry), "error", err)
		o.notifier.Notify(dispatch.KindError, msgEditLoadFailed)
		return err
	}

	o.mu.Lock()
	if o.st.activeTab == TabRoutes {
		o.leaveRoutesLocked()
	}
	o.st.activeTab = TabCreate
	o.st.currentPage = PageCreate
	o.st.createStep = StepDeparture
	o.mu.Unlock()
	observability.Transitions.WithLabelValues("tab").Inc()
	return nil
}
