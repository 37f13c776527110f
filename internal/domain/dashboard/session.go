package dashboard

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdash/clinicdash/internal/platform/auth"
	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

// State is the sequencer state of a dashboard session.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateRedirected      State = "redirected"
	StateLoading         State = "loading"
	StateReady           State = "ready"
	StateFailed          State = "failed"
)

// KindProfessional identifies professional dashboard sessions in the registry.
const KindProfessional = "professional"

// Navigator performs the redirects decided by the mount guard.
type Navigator interface {
	Redirect(path string)
}

// Options carries the collaborators shared by every session.
type Options struct {
	Client    transport.Client
	Location  *time.Location
	LoginPath string
	Logger    zerolog.Logger
	// Publish is called with the session id after every store change.
	Publish func(sessionID string)
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.UTC
}

// Guard decides whether viewer may open the dashboard of ownerID with the
// given role. On refusal it redirects through nav and returns the failure;
// the failure carries no user-facing message.
func Guard(viewer *auth.Viewer, role, ownerID, loginPath string, nav Navigator) *Failure {
	if viewer == nil || viewer.ID == "" {
		if loginPath == "" {
			loginPath = "/login"
		}
		nav.Redirect(loginPath)
		return &Failure{Kind: MissingIdentity, Op: "mount", Status: http.StatusSeeOther}
	}
	if viewer.Role != role || viewer.ID != ownerID {
		nav.Redirect(viewer.HomePath())
		return &Failure{Kind: AuthorizationMismatch, Op: "mount", Status: http.StatusSeeOther}
	}
	return nil
}

// Session is one mounted professional dashboard. It owns the store, the
// synchronizer and the sequencer state for that mount.
type Session struct {
	id       string
	ownerID  string
	viewerID string

	store  *Store
	loader *loader
	sync   *Synchronizer
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	failure *Failure

	lastSeen atomic.Int64
}

// Mount runs the guard and, when it passes, creates a session in the
// Loading state. Start must be called to dispatch the initial load.
func Mount(viewer *auth.Viewer, token, ownerID string, nav Navigator, opts Options) (*Session, error) {
	if f := Guard(viewer, auth.RoleProfessional, ownerID, opts.LoginPath, nav); f != nil {
		return nil, f
	}

	id := uuid.NewString()
	logger := opts.Logger.With().Str("session_id", id).Str("owner_id", ownerID).Logger()
	ctx, cancel := context.WithCancel(transport.WithToken(context.Background(), token))

	store := NewStore()
	fetcher := NewFetcher(opts.Client, logger)
	ld := &loader{fetcher: fetcher, store: store, ownerID: ownerID, loc: opts.location(), logger: logger}

	s := &Session{
		id:       id,
		ownerID:  ownerID,
		viewerID: viewer.ID,
		store:    store,
		loader:   ld,
		sync: &Synchronizer{
			fetcher: fetcher,
			store:   store,
			loader:  ld,
			ownerID: ownerID,
			loc:     opts.location(),
			logger:  logger,
		},
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateLoading,
	}
	if opts.Publish != nil {
		store.OnChange(func() { opts.Publish(id) })
	}
	s.Touch()
	logger.Info().Str("kind", KindProfessional).Msg("dashboard session opened")
	return s, nil
}

// Start dispatches every initial collection fetch concurrently. The session
// becomes Ready once all have settled, or Failed when the summary failed.
func (s *Session) Start() {
	go func() {
		defer close(s.done)
		err := s.loader.refresh(s.ctx, InitialCollections...)

		s.mu.Lock()
		if s.store.Closed() {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.state = StateFailed
			s.failure = Normalize(FetchFailure, OpSummary, err)
			s.logger.Warn().Err(err).Msg("dashboard load failed")
		} else {
			s.state = StateReady
		}
		s.mu.Unlock()

		if s.opts.Publish != nil {
			s.opts.Publish(s.id)
		}
	}()
}

// Wait blocks until the initial load has settled or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unmounts the session. Every in-flight result is discarded from here
// on.
func (s *Session) Close() {
	if s.store.Closed() {
		return
	}
	s.store.Close()
	s.cancel()
	s.logger.Info().Str("kind", KindProfessional).Msg("dashboard session closed")
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Kind() string        { return KindProfessional }
func (s *Session) OwnerID() string     { return s.ownerID }
func (s *Session) ViewerID() string    { return s.viewerID }
func (s *Session) Store() *Store       { return s.store }
func (s *Session) Sync() *Synchronizer { return s.sync }

func (s *Session) Touch() { s.lastSeen.Store(s.opts.now().UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Context is the session context: cancelled on Close and carrying the
// viewer's token for the transport.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the sequencer state and, for Failed, the blocking failure.
func (s *Session) State() (State, *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.failure
}

// SetCriteria replaces the filter criteria. When the session is Ready and
// the status criterion changed, only the patients collection is refetched.
func (s *Session) SetCriteria(c FilterCriteria) {
	if c.Status == "" {
		c.Status = FilterAll
	}
	if c.PaymentMethod == "" {
		c.PaymentMethod = FilterAll
	}
	prev := s.store.Criteria()
	if !s.store.SetCriteria(c) {
		return
	}
	if state, _ := s.State(); state == StateReady && prev.Status != c.Status {
		_ = s.loader.load(s.ctx, CollectionPatients)
	}
}

// SelectPatient opens the detail panel for id, fills the edit buffer and
// loads the patient's notes.
func (s *Session) SelectPatient(id string) error {
	p, ok := s.store.Patient(id)
	if !ok {
		return &Failure{Kind: FetchFailure, Op: OpListNotes, Message: "Patient not found.", Status: http.StatusNotFound}
	}
	s.store.SelectPatient(p)
	edit := EditBufferFor(p, s.opts.location())
	s.store.UpdateForms(func(f *Forms) { f.EditPatient = edit })
	return s.loader.loadNotes(s.ctx, id)
}

// DismissError removes a section message.
func (s *Session) DismissError(section string) { s.store.DismissError(section) }

func (s *Session) ClearSelection() {
	s.store.ClearSelection()
	s.store.ResetForm(FormEditPatient)
}

// View renders the current snapshot with its projections.
func (s *Session) View() View {
	state, failure := s.State()
	return BuildView(s.id, state, failure, s.store.Snapshot(), s.opts.now(), s.opts.location())
}
