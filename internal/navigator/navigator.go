// Package navigator is the orchestration core of the client: a state machine
// over auth mode, active tab, page and wizard step that sequences screen
// transitions and delegates to the draft store, the history reconciler and
// the ride backend.
//
// The mutex is never held while a collaborator is called. The session
// manager may invoke the expiry callback synchronously, and remote calls
// must not block State readers.
package navigator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-client/internal/clock"
	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/draft"
	"github.com/example/ride-client/internal/events"
	"github.com/example/ride-client/internal/history"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/route"
)

type AuthMode string

const (
	AuthLogin    AuthMode = "login"
	AuthRegister AuthMode = "register"
)

type Tab string

const (
	TabSearch   Tab = "search"
	TabCreate   Tab = "create"
	TabRoutes   Tab = "routes"
	TabProfile  Tab = "profile"
	TabMessages Tab = "messages"
)

type Page string

const (
	PageSearch            Page = "search"
	PageSearchDestination Page = "search-destination"
	PageSearchResults     Page = "search-results"
	PageRideDetails       Page = "ride-details"
	PageBooking           Page = "booking"
	PageCreate            Page = "create"
	PageRoutes            Page = "routes"
	PageProfile           Page = "profile"
)

type CreateStep string

const (
	StepDeparture   CreateStep = "departure"
	StepDestination CreateStep = "destination"
	StepRoute       CreateStep = "route"
	StepDate        CreateStep = "date"
	StepTime        CreateStep = "time"
	StepPassengers  CreateStep = "passengers"
	StepPrice       CreateStep = "price"
)

// wizardOrder is the fixed linear order of the creation wizard.
var wizardOrder = []CreateStep{StepDeparture, StepDestination, StepRoute, StepDate, StepTime, StepPassengers, StepPrice}

type RoutesView string

const (
	RoutesList          RoutesView = "list"
	RoutesDriverDetails RoutesView = "driver-details"
)

// landing is the page a tab opens on.
var landing = map[Tab]Page{
	TabSearch:  PageSearch,
	TabCreate:  PageCreate,
	TabRoutes:  PageRoutes,
	TabProfile: PageProfile,
}

// pagesByTab lists the pages valid for each tab.
var pagesByTab = map[Tab][]Page{
	TabSearch:  {PageSearch, PageSearchDestination, PageSearchResults, PageRideDetails, PageBooking},
	TabCreate:  {PageCreate},
	TabRoutes:  {PageRoutes},
	TabProfile: {PageProfile},
}

// backTargets is the static back-navigation table. Pages without an entry
// have no back action.
var backTargets = map[Page]Page{
	PageRideDetails:       PageSearchResults,
	PageBooking:           PageRideDetails,
	PageSearchDestination: PageSearch,
	PageSearchResults:     PageSearchDestination,
}

// ValidPage reports whether p belongs to tab.
func ValidPage(tab Tab, p Page) bool {
	for _, q := range pagesByTab[tab] {
		if q == p {
			return true
		}
	}
	return false
}

var (
	ErrNotAuthenticated = errors.New("navigator: not authenticated")
	ErrAuthenticated    = errors.New("navigator: already authenticated")
	ErrUnknownTab       = errors.New("navigator: unknown tab")
	ErrWrongPage        = errors.New("navigator: action not available on this page")
	ErrWrongStep        = errors.New("navigator: action not available on this wizard step")
	ErrRideNotFound     = errors.New("Corrida não encontrada.")
	ErrNotDriver        = errors.New("navigator: ride details are only available to its driver")
	ErrNothingToResume  = errors.New("navigator: current step has no data to continue with")
)

// Toast texts shown by the orchestrator.
const (
	msgSessionExpired   = "Sua sessão expirou. Faça login novamente."
	msgRideCreated      = "Carona criada com sucesso!"
	msgRideUpdated      = "Carona atualizada com sucesso!"
	msgRideBooked       = "Carona reservada com sucesso!"
	msgRideCancelled    = "Corrida cancelada."
	msgEditLoadFailed   = "Erro ao carregar dados da corrida para edição"
	msgMissingCoords    = "Coordenadas de partida/destino não encontradas."
	msgMissingSchedule  = "Data, horário ou lugares não definidos."
	msgMissingDest      = "Por favor, selecione um destino ou marque \"Usar endereço da empresa\"."
	msgMissingDeparture = "Erro: Endereço de partida não encontrado. Volte para a tela anterior."
	msgPassengerNoName  = "Passageiro sem nome"
)

// Session is the part of the session manager the orchestrator drives.
type Session interface {
	Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error)
	Logout(ctx context.Context) error
	IsAuthenticated(ctx context.Context) bool
	ScheduleExpiryCheck(ctx context.Context, onExpire func())
	ViewerID(ctx context.Context) (string, error)
}

// Drafts is the trip draft store.
type Drafts interface {
	Snapshot() draft.Draft
	Reset(ctx context.Context) error
	SetDeparture(ctx context.Context, loc models.Location) error
	SetDestination(ctx context.Context, loc models.Location) error
	SetDate(date string) error
	SetTime(hhmm string) error
	SetSeats(n int) error
	SetPrice(p float64) error
	SetRouteDuration(ctx context.Context, minutes int) error
	LoadForEdit(ctx context.Context, rideID string) error
	Submit(ctx context.Context, driverID string, price float64) (draft.Result, error)
}

// History is the ride history reconciler.
type History interface {
	Fetch(ctx context.Context, viewerID string) ([]models.RideHistoryEntry, error)
	Recent(ctx context.Context, viewerID string, n int) ([]models.RideHistoryEntry, error)
}

// Rides is the part of the ride backend used directly by the orchestrator.
type Rides interface {
	SuggestRides(ctx context.Context, req models.SuggestRidesRequest) ([]models.Ride, error)
	ChooseRide(ctx context.Context, rideID, userID string) error
	CancelAsDriver(ctx context.Context, rideID, userID string) error
	CancelAsPassenger(ctx context.Context, rideID, userID string) error
	GetRide(ctx context.Context, rideID string) (models.Ride, error)
	GetUser(ctx context.Context, userID string) (models.UserProfile, error)
}

type Options struct {
	Session  Session
	Drafts   Drafts
	History  History
	Rides    Rides
	Router   route.Router
	Notifier dispatch.Notifier
	Events   events.Publisher
	Clock    clock.Clock
	Logger   *slog.Logger
	// RecentLimit is the size of the landing-page preview.
	RecentLimit int
	// Concurrency bounds passenger lookups on the driver details view.
	Concurrency int
}

// navState is the mutable navigation state; the draft lives in Drafts.
type navState struct {
	authenticated bool
	authMode      AuthMode
	registerStep  int
	activeTab     Tab
	currentPage   Page
	createStep    CreateStep
	routesView    RoutesView

	search        *models.SearchQuery
	searchResults []models.Ride
	selectedRide  *models.Ride
	bookings      []models.BookedRide

	history       []models.RideHistoryEntry
	recentRides   []models.RideHistoryEntry
	loadingHist   bool
	loadingRecent bool

	selectedDriverRide *models.RideHistoryEntry
	driverPassengers   []models.PassengerInfo
	loadingPassengers  bool
}

func initialState() navState {
	return navState{
		authMode:     AuthLogin,
		registerStep: 1,
		activeTab:    TabSearch,
		currentPage:  PageSearch,
		createStep:   StepDeparture,
		routesView:   RoutesList,
	}
}

type Orchestrator struct {
	session     Session
	drafts      Drafts
	history     History
	rides       Rides
	router      route.Router
	notifier    dispatch.Notifier
	events      events.Publisher
	clock       clock.Clock
	logger      *slog.Logger
	recentLimit int
	concurrency int

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu           sync.Mutex
	st           navState
	histGen      uint64
	histCancel   context.CancelFunc
	recentGen    uint64
	recentCancel context.CancelFunc
	detailsGen   uint64
	sessionGen   uint64
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		session:     opts.Session,
		drafts:      opts.Drafts,
		history:     opts.History,
		rides:       opts.Rides,
		router:      opts.Router,
		notifier:    opts.Notifier,
		events:      opts.Events,
		clock:       opts.Clock,
		logger:      logging.Or(opts.Logger),
		recentLimit: opts.RecentLimit,
		concurrency: opts.Concurrency,
		st:          initialState(),
	}
	if o.notifier == nil {
		o.notifier = dispatch.LogNotifier{Logger: o.logger}
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.recentLimit <= 0 {
		o.recentLimit = history.DefaultRecent
	}
	if o.concurrency <= 0 {
		o.concurrency = history.DefaultConcurrency
	}
	o.base, o.stopBase = context.WithCancel(context.Background())
	return o
}

// Wait blocks until every background load has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Close cancels background loads and waits for them.
func (o *Orchestrator) Close() {
	o.stopBase()
	o.wg.Wait()
}

// State is a copy of everything the screens render.
type State struct {
	Authenticated bool       `json:"authenticated"`
	AuthMode      AuthMode   `json:"authMode"`
	RegisterStep  int        `json:"registerStep"`
	ActiveTab     Tab        `json:"activeTab"`
	CurrentPage   Page       `json:"currentPage"`
	CreateStep    CreateStep `json:"createStep"`
	RoutesView    RoutesView `json:"routesView"`
	Editing       bool       `json:"editing"`

	Draft         draft.Draft         `json:"draft"`
	Search        *models.SearchQuery `json:"search,omitempty"`
	SearchResults []models.Ride       `json:"searchResults"`
	SelectedRide  *models.Ride        `json:"selectedRide,omitempty"`
	Bookings      []models.BookedRide `json:"bookings"`

	History        []models.RideHistoryEntry `json:"history"`
	RecentRides    []models.RideHistoryEntry `json:"recentRides"`
	LoadingHistory bool                      `json:"loadingHistory"`
	LoadingRecent  bool                      `json:"loadingRecent"`

	SelectedDriverRide *models.RideHistoryEntry `json:"selectedDriverRide,omitempty"`
	DriverPassengers   []models.PassengerInfo   `json:"driverPassengers"`
	LoadingPassengers  bool                     `json:"loadingPassengers"`
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	st := o.st
	s := State{
		Authenticated:      st.authenticated,
		AuthMode:           st.authMode,
		RegisterStep:       st.registerStep,
		ActiveTab:          st.activeTab,
		CurrentPage:        st.currentPage,
		CreateStep:         st.createStep,
		RoutesView:         st.routesView,
		Search:             cloneSearch(st.search),
		SearchResults:      append([]models.Ride(nil), st.searchResults...),
		SelectedRide:       clonePtr(st.selectedRide),
		Bookings:           append([]models.BookedRide(nil), st.bookings...),
		History:            append([]models.RideHistoryEntry(nil), st.history...),
		RecentRides:        append([]models.RideHistoryEntry(nil), st.recentRides...),
		LoadingHistory:     st.loadingHist,
		LoadingRecent:      st.loadingRecent,
		SelectedDriverRide: clonePtr(st.selectedDriverRide),
		DriverPassengers:   append([]models.PassengerInfo(nil), st.driverPassengers...),
		LoadingPassengers:  st.loadingPassengers,
	}
	o.mu.Unlock()

	s.Draft = o.drafts.Snapshot()
	s.Editing = s.Draft.Editing()
	return s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSearch(q *models.SearchQuery) *models.SearchQuery {
	if q == nil {
		return nil
	}
	v := *q
	v.Destination = clonePtr(q.Destination)
	return &v
}

// SelectTab handles a bottom-navigation tap. messages is inert. Every tab
// opens on its landing page; create always restarts the wizard.
func (o *Orchestrator) SelectTab(ctx context.Context, tab Tab) error {
	if tab == TabMessages {
		return nil
	}
	if _, ok := landing[tab]; !ok {
		return ErrUnknownTab
	}

	o.mu.Lock()
	if !o.st.authenticated {
		o.mu.Unlock()
		return ErrNotAuthenticated
	}
	prev := o.st.activeTab
	if prev == TabRoutes && tab != TabRoutes {
		o.leaveRoutesLocked()
	}
	o.st.activeTab = tab
	o.st.currentPage = landing[tab]
	if tab == TabCreate {
		o.st.createStep = StepDeparture
	}
	o.mu.Unlock()

	observability.Transitions.WithLabelValues("tab").Inc()
	if tab == TabCreate || prev == TabCreate {
		o.resetDraft(ctx)
	}
	switch tab {
	case TabRoutes:
		o.loadHistory()
	case TabSearch:
		o.loadRecent()
	}
	return nil
}

// leaveRoutesLocked drops the drill-down view and abandons in-flight
// history loads. o.mu must be held.
func (o *Orchestrator) leaveRoutesLocked() {
	o.st.routesView = RoutesList
	o.st.selectedDriverRide = nil
	o.st.driverPassengers = nil
	o.st.loadingPassengers = false
	o.st.loadingHist = false
	o.detailsGen++
	o.histGen++
	if o.histCancel != nil {
		o.histCancel()
		o.histCancel = nil
	}
}

// Back applies the static back table to the current page. Pages without a
// back target are left unchanged.
func (o *Orchestrator) Back() Page {
	o.mu.Lock()
	target, ok := backTargets[o.st.currentPage]
	moved := ok && ValidPage(o.st.activeTab, target)
	if moved {
		o.st.currentPage = target
	}
	page := o.st.currentPage
	o.mu.Unlock()

	if moved {
		observability.Transitions.WithLabelValues("back").Inc()
		if page == PageSearch {
			o.loadRecent()
		}
	}
	return page
}

func (o *Orchestrator) resetDraft(ctx context.Context) {
	if err := o.drafts.Reset(ctx); err != nil {
		o.logger.Warn("reset draft", "error", err)
	}
}

func (o *Orchestrator) publish(e events.Event) {
	e.At = o.clock.Now()
	if err := o.events.Publish(o.base, e); err != nil {
		o.logger.Warn("publish event", "type", e.Type, "error", err)
	}
}

// fail surfaces err as an error toast and returns it.
func (o *Orchestrator) fail(err error) error {
	o.notifier.Notify(dispatch.KindError, err.Error())
	return err
}

func (o *Orchestrator) requireAuth() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.st.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

func (o *Orchestrator) now() time.Time { return o.clock.Now() }
