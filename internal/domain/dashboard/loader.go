package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var collectionOps = map[Collection]string{
	CollectionPatients:         OpListPatients,
	CollectionAppointments:     OpListAppointments,
	CollectionAssistants:       OpListAssistants,
	CollectionNotes:            OpListNotes,
	CollectionProgress:         OpListProgress,
	CollectionDiagnosis:        OpDiagnosisDistribution,
	CollectionAppointmentTypes: OpAppointmentTypes,
	CollectionSummary:          OpSummary,
	CollectionNotifications:    OpListNotifications,
}

// loader fetches collections for one session and applies the results to its
// store. A result that arrives after the session context is done, or after
// the store is closed, is discarded.
type loader struct {
	fetcher *Fetcher
	store   *Store
	ownerID string
	loc     *time.Location
	logger  zerolog.Logger
}

// refresh loads every collection concurrently and waits for all of them to
// settle. Only a summary failure is returned; other failures are recorded as
// section errors in the store.
func (l *loader) refresh(ctx context.Context, collections ...Collection) error {
	var g errgroup.Group
	var summaryErr error
	for _, c := range collections {
		c := c
		g.Go(func() error {
			err := l.load(ctx, c)
			if c == CollectionSummary {
				summaryErr = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return summaryErr
}

// load fetches one collection. The loading flag is cleared on every exit
// path, panics included.
func (l *loader) load(ctx context.Context, c Collection) (err error) {
	if c == CollectionNotes {
		return l.loadNotes(ctx, l.store.SelectedPatientID())
	}
	if !l.store.BeginLoad(c) {
		return nil
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Kind: FetchFailure, Op: collectionOps[c], Message: DefaultMessage(collectionOps[c]), Err: fmt.Errorf("panic: %v", r)}
		}
		l.settle(ctx, c, started, err)
	}()
	return l.apply(ctx, c)
}

func (l *loader) settle(ctx context.Context, c Collection, started time.Time, err error) {
	msg := ""
	var f *Failure
	if errors.As(err, &f) && !IsCanceled(f.Err) {
		msg = f.Message
	}
	if !l.store.EndLoad(c, msg) {
		l.logger.Debug().Str("collection", string(c)).Msg("session closed, result discarded")
		return
	}
	ev := l.logger.Debug().Str("collection", string(c)).Dur("duration", time.Since(started))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("collection settled")
}

// stale reports whether results for ctx must no longer reach the store.
func (l *loader) stale(ctx context.Context) bool {
	return ctx.Err() != nil || l.store.Closed()
}

func (l *loader) apply(ctx context.Context, c Collection) error {
	switch c {
	case CollectionPatients:
		v, err := l.fetcher.Patients(ctx, l.ownerID, l.store.Criteria().Status)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetPatients(v)
	case CollectionAppointments:
		v, err := l.fetcher.Appointments(ctx, l.ownerID)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetAppointments(v)
	case CollectionAssistants:
		v, err := l.fetcher.Assistants(ctx, l.ownerID)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetAssistants(v)
	case CollectionProgress:
		v, err := l.fetcher.Progress(ctx, l.ownerID)
		if l.stale(ctx) {
			return err
		}
		if err != nil {
			l.store.SetProgress(EmptySeries(ProgressMetrics))
			return err
		}
		l.store.SetProgress(Pivot(v, ProgressMetrics, l.loc))
	case CollectionDiagnosis:
		v, err := l.fetcher.DiagnosisDistribution(ctx, l.ownerID)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetDiagnosisDistribution(v)
	case CollectionAppointmentTypes:
		v, err := l.fetcher.AppointmentTypes(ctx, l.ownerID)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetAppointmentTypes(v)
	case CollectionNotifications:
		v, err := l.fetcher.Notifications(ctx, l.ownerID)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetNotifications(v)
	case CollectionSummary:
		v, err := l.fetcher.Summary(ctx, l.ownerID)
		if err != nil || l.stale(ctx) {
			return err
		}
		l.store.SetSummary(v)
	default:
		return fmt.Errorf("unknown collection %q", c)
	}
	return nil
}

// loadNotes fetches the notes of patientID and applies them only if that
// patient is still the one selected.
func (l *loader) loadNotes(ctx context.Context, patientID string) (err error) {
	if patientID == "" {
		return nil
	}
	if !l.store.BeginLoad(CollectionNotes) {
		return nil
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Kind: FetchFailure, Op: OpListNotes, Message: DefaultMessage(OpListNotes), Err: fmt.Errorf("panic: %v", r)}
		}
		l.settle(ctx, CollectionNotes, started, err)
	}()

	notes, err := l.fetcher.Notes(ctx, patientID)
	if err != nil || l.stale(ctx) {
		return err
	}
	if !l.store.SetSelectedNotes(patientID, notes) {
		l.logger.Debug().Str("patient_id", patientID).Msg("selection changed, notes discarded")
	}
	return nil
}
