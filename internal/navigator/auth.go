package navigator

import (
	"context"

	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/events"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// Resume picks up a session persisted by an earlier run, if it is still
// valid.
func (o *Orchestrator) Resume(ctx context.Context) bool {
	if !o.session.IsAuthenticated(ctx) {
		return false
	}
	o.mu.Lock()
	o.st.authenticated = true
	o.mu.Unlock()
	o.session.ScheduleExpiryCheck(ctx, o.expire)
	o.loadRecent()
	return o.Authenticated()
}

// Authenticated reports the orchestrator's view of the session.
func (o *Orchestrator) Authenticated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.authenticated
}

// Login signs in and lands on the search tab.
func (o *Orchestrator) Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error) {
	resp, err := o.session.Login(ctx, req)
	if err != nil {
		return models.LoginResponse{}, o.fail(err)
	}

	o.mu.Lock()
	o.abandonLoadsLocked()
	o.st = initialState()
	o.st.authenticated = true
	o.mu.Unlock()

	o.session.ScheduleExpiryCheck(ctx, o.expire)
	o.publish(events.Event{Type: events.SessionStarted, UserID: resp.ID})
	o.loadRecent()
	return resp, nil
}

// Logout is the user-initiated reset: no message is shown.
func (o *Orchestrator) Logout(ctx context.Context) error {
	o.reset(ctx)
	return nil
}

// expire is the session expiry callback: a full reset plus a message.
func (o *Orchestrator) expire() {
	ctx := o.base
	o.reset(ctx)
	observability.SessionExpirations.Inc()
	o.notifier.Notify(dispatch.KindError, msgSessionExpired)
	o.publish(events.Event{Type: events.SessionExpired})
}

// reset clears authentication, the draft and every cached list, and returns
// to the search landing page.
func (o *Orchestrator) reset(ctx context.Context) {
	o.mu.Lock()
	o.abandonLoadsLocked()
	o.st = initialState()
	o.mu.Unlock()

	o.resetDraft(ctx)
	if err := o.session.Logout(ctx); err != nil {
		o.logger.Warn("clear session", "error", err)
	}
}

// abandonLoadsLocked cancels every background load and makes any late
// result stale. o.mu must be held.
func (o *Orchestrator) abandonLoadsLocked() {
	o.sessionGen++
	o.histGen++
	o.recentGen++
	o.detailsGen++
	if o.histCancel != nil {
		o.histCancel()
		o.histCancel = nil
	}
	if o.recentCancel != nil {
		o.recentCancel()
		o.recentCancel = nil
	}
}

// ShowRegister switches the unauthenticated screen to registration step 1.
func (o *Orchestrator) ShowRegister() error {
	return o.withUnauthenticated(func(st *navState) error {
		st.authMode = AuthRegister
		st.registerStep = 1
		return nil
	})
}

// ShowLogin switches the unauthenticated screen back to login.
func (o *Orchestrator) ShowLogin() error {
	return o.withUnauthenticated(func(st *navState) error {
		st.authMode = AuthLogin
		st.registerStep = 1
		return nil
	})
}

func (o *Orchestrator) RegisterNext() error {
	return o.withUnauthenticated(func(st *navState) error {
		if st.authMode != AuthRegister || st.registerStep >= 3 {
			return ErrWrongStep
		}
		st.registerStep++
		return nil
	})
}

func (o *Orchestrator) RegisterBack() error {
	return o.withUnauthenticated(func(st *navState) error {
		if st.authMode != AuthRegister || st.registerStep <= 1 {
			return ErrWrongStep
		}
		st.registerStep--
		return nil
	})
}

// RegisterComplete ends registration on step 3 and returns to login.
func (o *Orchestrator) RegisterComplete() error {
	return o.withUnauthenticated(func(st *navState) error {
		if st.authMode != AuthRegister || st.registerStep != 3 {
			return ErrWrongStep
		}
		st.authMode = AuthLogin
		st.registerStep = 1
		return nil
	})
}

func (o *Orchestrator) withUnauthenticated(f func(st *navState) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.authenticated {
		return ErrAuthenticated
	}
	if err := f(&o.st); err != nil {
		return err
	}
	observability.Transitions.WithLabelValues("auth").Inc()
	return nil
}

// epoch identifies the current session; it changes on every login and reset.
func (o *Orchestrator) epoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionGen
}

// sameSessionLocked reports whether the session seen at epoch gen is still
// live. o.mu must be held.
func (o *Orchestrator) sameSessionLocked(gen uint64) bool {
	return o.st.authenticated && o.sessionGen == gen
}
