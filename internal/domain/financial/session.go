package financial

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdash/clinicdash/internal/domain/dashboard"
	"github.com/clinicdash/clinicdash/internal/platform/auth"
	"github.com/clinicdash/clinicdash/internal/platform/transport"
)

const Kind = "financial"

// Snapshot is the financial view model. Rows is never nil.
type Snapshot struct {
	Rows     []ReportRow                   `json:"rows"`
	Summary  Summary                       `json:"summary"`
	Criteria Criteria                      `json:"criteria"`
	Loading  map[dashboard.Collection]bool `json:"loading"`
	Errors   map[string]string             `json:"errors"`
}

// View is the snapshot with the rows projected through the criteria.
type View struct {
	SessionID    string          `json:"session_id"`
	State        dashboard.State `json:"state"`
	Error        string          `json:"error,omitempty"`
	Snapshot     Snapshot        `json:"snapshot"`
	FilteredRows []ReportRow     `json:"filteredRows"`
	Totals       Totals          `json:"totals"`
}

// Session is one mounted financial dashboard.
type Session struct {
	id       string
	ownerID  string
	viewerID string

	client transport.Client
	loc    *time.Location
	now    func() time.Time
	notify func(string)
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	snap    Snapshot
	state   dashboard.State
	failure *dashboard.Failure
	closed  bool

	lastSeen atomic.Int64
}

// Mount guards and creates a financial session. Only the owning
// professional may open it.
func Mount(viewer *auth.Viewer, token, ownerID string, nav dashboard.Navigator, opts dashboard.Options) (*Session, error) {
	if f := dashboard.Guard(viewer, auth.RoleProfessional, ownerID, opts.LoginPath, nav); f != nil {
		return nil, f
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(transport.WithToken(context.Background(), token))

	s := &Session{
		id:       id,
		ownerID:  ownerID,
		viewerID: viewer.ID,
		client:   opts.Client,
		loc:      loc,
		now:      now,
		notify:   opts.Publish,
		logger:   opts.Logger.With().Str("session_id", id).Str("owner_id", ownerID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    dashboard.StateLoading,
		snap: Snapshot{
			Rows:     []ReportRow{},
			Summary:  Summary{ByMethod: []MethodTotal{}},
			Criteria: DefaultCriteria(),
			Loading:  map[dashboard.Collection]bool{},
			Errors:   map[string]string{},
		},
	}
	s.Touch()
	s.logger.Info().Str("kind", Kind).Msg("dashboard session opened")
	return s, nil
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Kind() string     { return Kind }
func (s *Session) ViewerID() string { return s.viewerID }

func (s *Session) Touch() { s.lastSeen.Store(s.now().UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.logger.Info().Str("kind", Kind).Msg("dashboard session closed")
}

// update applies fn unless the session is closed.
func (s *Session) update(fn func(*Snapshot)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	fn(&s.snap)
	s.mu.Unlock()
	if s.notify != nil {
		s.notify(s.id)
	}
	return true
}

// Start loads the rows and the summary concurrently. A summary failure fails
// the view; a rows failure is a section error.
func (s *Session) Start() {
	go func() {
		defer close(s.done)
		var g errgroup.Group
		var summaryErr error
		g.Go(func() error {
			summaryErr = s.load(CollectionSummary, dashboard.OpFinancialSummary, s.loadSummary)
			return nil
		})
		g.Go(func() error {
			_ = s.load(CollectionRows, dashboard.OpListReportRows, s.loadRows)
			return nil
		})
		_ = g.Wait()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if summaryErr != nil {
			s.state = dashboard.StateFailed
			s.failure = dashboard.Normalize(dashboard.FetchFailure, dashboard.OpFinancialSummary, summaryErr)
		} else {
			s.state = dashboard.StateReady
		}
		s.mu.Unlock()
		if s.notify != nil {
			s.notify(s.id)
		}
	}()
}

func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) load(c dashboard.Collection, op string, fetch func() error) (err error) {
	if !s.update(func(snap *Snapshot) { snap.Loading[c] = true }) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &dashboard.Failure{Kind: dashboard.FetchFailure, Op: op, Message: dashboard.DefaultMessage(op), Err: fmt.Errorf("panic: %v", r)}
		}
		msg := ""
		var f *dashboard.Failure
		if errors.As(err, &f) && !dashboard.IsCanceled(f.Err) {
			msg = f.Message
		}
		s.update(func(snap *Snapshot) {
			delete(snap.Loading, c)
			if msg != "" {
				snap.Errors[string(c)] = msg
			} else {
				delete(snap.Errors, string(c))
			}
		})
	}()
	return fetch()
}

func (s *Session) query() url.Values {
	return url.Values{"professionalId": []string{s.ownerID}}
}

func (s *Session) loadRows() error {
	raw, err := s.client.Get(s.ctx, "/reports/financial", s.query())
	if err != nil {
		return dashboard.Normalize(dashboard.FetchFailure, dashboard.OpListReportRows, err)
	}
	rows, dropped, mismatch := dashboard.DecodeList(raw, func(r ReportRow) bool { return r.ID != "" })
	if mismatch {
		s.logger.Warn().Str("op", dashboard.OpListReportRows).Msg("payload is not a collection, using empty list")
	}
	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("invalid report rows dropped")
	}
	if s.ctx.Err() != nil {
		return nil
	}
	s.update(func(snap *Snapshot) { snap.Rows = rows })
	return nil
}

func (s *Session) loadSummary() error {
	raw, err := s.client.Get(s.ctx, "/reports/financial/summary", s.query())
	if err != nil {
		return dashboard.Normalize(dashboard.FetchFailure, dashboard.OpFinancialSummary, err)
	}
	var sum Summary
	if err := dashboard.DecodeRecord(raw, &sum); err != nil {
		return dashboard.Normalize(dashboard.FetchFailure, dashboard.OpFinancialSummary, err)
	}
	if sum.ByMethod == nil {
		sum.ByMethod = []MethodTotal{}
	}
	if s.ctx.Err() != nil {
		return nil
	}
	s.update(func(snap *Snapshot) { snap.Summary = sum })
	return nil
}

// SetCriteria replaces the criteria. The rows are already loaded in full, so
// no fetch follows.
func (s *Session) SetCriteria(c Criteria) {
	if c.PaymentMethod == "" {
		c.PaymentMethod = dashboard.FilterAll
	}
	s.update(func(snap *Snapshot) { snap.Criteria = c })
}

func (s *Session) State() (dashboard.State, *dashboard.Failure) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.failure
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Rows = append([]ReportRow{}, s.snap.Rows...)
	out.Summary.ByMethod = append([]MethodTotal{}, s.snap.Summary.ByMethod...)
	out.Loading = make(map[dashboard.Collection]bool, len(s.snap.Loading))
	for k, v := range s.snap.Loading {
		out.Loading[k] = v
	}
	out.Errors = make(map[string]string, len(s.snap.Errors))
	for k, v := range s.snap.Errors {
		out.Errors[k] = v
	}
	return out
}

func (s *Session) View() View {
	state, failure := s.State()
	snap := s.Snapshot()
	rows := FilterRows(snap.Rows, snap.Criteria, s.loc)
	v := View{
		SessionID:    s.id,
		State:        state,
		Snapshot:     snap,
		FilteredRows: rows,
		Totals:       SumRows(rows),
	}
	if state == dashboard.StateFailed && failure != nil {
		v.Error = failure.Message
	}
	return v
}

func (s *Session) Render() interface{} { return s.View() }

// DismissError removes a section message.
func (s *Session) DismissError(section string) {
	s.update(func(snap *Snapshot) { delete(snap.Errors, section) })
}
